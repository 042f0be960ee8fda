package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionSnapshotKey returns the cache key for a proctored session snapshot
func (r *CacheKeyStruct) SessionSnapshotKey(certTransactionID string) string {
	return fmt.Sprintf("proctor:session:%s", certTransactionID)
}

// SessionLockKey returns the key that marks a session as live on some instance
func (r *CacheKeyStruct) SessionLockKey(certTransactionID string) string {
	return fmt.Sprintf("proctor:session:%s:lock", certTransactionID)
}

// ProctorMonitorChannel returns the Redis PubSub channel name for a tenant's proctor monitor
func (r *CacheKeyStruct) ProctorMonitorChannel(tenantID string) string {
	return fmt.Sprintf("tenant:%s:proctor_monitor", tenantID)
}

var CacheKey = NewCacheKeyStruct()
