package router

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/handler"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const questionBody = `{"data":{"timeLimitMinutes":30,"questions":[
	{"id":1,"question":"Q1","option1":"a","option2":"b","option3":"c","option4":"d","option5":"e","correctAnswer":2},
	{"id":2,"question":"Q2","option1":"a","option2":"b","option3":"c","option4":"d","option5":"e","correctAnswer":5}
]}}`

type fakeAudits struct{}

func (fakeAudits) GetViolationCounts(context.Context, string) (map[string]int64, error) {
	return map[string]int64{"ct-9": 1}, nil
}

func (fakeAudits) ListRecentSubmissions(context.Context, string, int) ([]model.SubmissionAudit, error) {
	return nil, nil
}

type backend struct {
	mu        sync.Mutex
	submitted []model.Submission
	auth      []string
}

func (b *backend) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.auth = append(b.auth, r.Header.Get("Authorization"))
		b.mu.Unlock()

		if strings.HasSuffix(r.URL.Path, "/questions") {
			_, _ = w.Write([]byte(questionBody))
			return
		}
		var sub model.Submission
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sub))
		b.mu.Lock()
		b.submitted = append(b.submitted, sub)
		b.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

type stack struct {
	server  *httptest.Server
	backend *backend
	auth    *service.AuthService
	rdb     *redis.Client
	events  *repository.ProctorEventRepository
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	be := &backend{}
	beSrv := httptest.NewServer(be.handler(t))
	t.Cleanup(beSrv.Close)

	cfg := &config.Config{
		GinMode:             gin.TestMode,
		JWTSecret:           "router-test-secret-0123456789",
		JWTExpiry:           time.Hour,
		WSMessagesPerSecond: 50,
		WSMessageBurst:      50,
		SessionStartsPerMin: 30,
	}
	log := zerolog.Nop()

	client := gateway.NewClient(gateway.Config{
		BaseURL:           beSrv.URL,
		QuestionGroupPath: "/question-groups/%s/questions",
		CertificationPath: "/certifications/%s/questions",
		SubmitPath:        "/certification-transactions/submit",
	}, log)

	snapshots := repository.NewSessionSnapshotRepository(rdb, time.Hour)
	events := repository.NewProctorEventRepository(rdb)
	auth := service.NewAuthService(cfg)
	sessions := service.NewSessionService(client, snapshots, events, service.SessionOptions{GracePeriod: 10}, log)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = sessions.Shutdown(ctx)
	})

	handlers := &Handlers{
		WS: handler.NewWSHandler(sessions, handler.WSOptions{
			MessagesPerSec:   cfg.WSMessagesPerSecond,
			MessageBurst:     cfg.WSMessageBurst,
			SessionStartsMin: cfg.SessionStartsPerMin,
		}, log),
		Session: handler.NewSessionHandler(sessions, log),
		Monitor: handler.NewMonitorHandler(events, service.NewProctorService(fakeAudits{}), handler.MonitorOptions{
			RefreshInterval:   50 * time.Millisecond,
			KeepAliveInterval: 100 * time.Millisecond,
		}, log),
		Review:  handler.NewReviewHandler(client, log),
		System:  handler.NewSystemHandler(nil, rdb, sessions, log),
	}

	srv := httptest.NewServer(SetupRouter(auth, handlers, cfg))
	t.Cleanup(srv.Close)

	return &stack{server: srv, backend: be, auth: auth, rdb: rdb, events: events}
}

func (s *stack) participantToken(t *testing.T) string {
	t.Helper()
	tok, err := s.auth.GenerateParticipantToken("t1", "e1")
	require.NoError(t, err)
	return tok
}

func (s *stack) wsURL(path string) string {
	return "ws" + strings.TrimPrefix(s.server.URL, "http") + path
}

func (s *stack) get(t *testing.T, path, token string) (*http.Response, map[string]interface{}) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.server.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]interface{}
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(map[string]interface{}) bool) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]interface{}
		require.NoError(t, conn.ReadJSON(&msg))
		if match(msg) {
			return msg
		}
	}
}

func event(name string) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool { return m["event"] == name }
}

func stateIs(state string) func(map[string]interface{}) bool {
	return func(m map[string]interface{}) bool {
		if m["event"] != "state" {
			return false
		}
		snap, _ := m["snapshot"].(map[string]interface{})
		return snap["state"] == state
	}
}

func TestSessionStreamEndToEnd(t *testing.T) {
	s := newStack(t)
	token := s.participantToken(t)
	url := s.wsURL("/ws/v1/sessions/ct-1/stream?question_group_id=qg-1&token=" + token)

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	active := readUntil(t, conn, stateIs("ACTIVE"))
	snap := active["snapshot"].(map[string]interface{})
	assert.Equal(t, true, snap["time_limited"])
	assert.Len(t, snap["questions"], 2)

	raw, err := json.Marshal(active)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "correct")

	// A second window for the same transaction is turned away.
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "ping"}))
	readUntil(t, conn, event("pong"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": 2, "option": 9}))
	bad := readUntil(t, conn, event("error"))
	assert.Equal(t, "VALIDATION_ERROR", bad["code"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "answer", "question_id": 2, "option": 3}))
	readUntil(t, conn, stateIs("ACTIVE"))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"action": "submit"}))
	done := readUntil(t, conn, event("submitted"))
	assert.Equal(t, "Your answers have been submitted.", done["message"])
	assert.Equal(t, "USER", done["reason"])
	readUntil(t, conn, stateIs("SUBMITTED"))

	s.backend.mu.Lock()
	require.Len(t, s.backend.submitted, 1)
	sub := s.backend.submitted[0]
	for _, a := range s.backend.auth {
		assert.Equal(t, "Bearer "+token, a)
	}
	s.backend.mu.Unlock()

	assert.Equal(t, "ct-1", sub.CertTransactionID)
	require.Len(t, sub.Answers, 2)
	assert.Nil(t, sub.Answers[0].UserAnswer)
	require.NotNil(t, sub.Answers[1].UserAnswer)
	assert.Equal(t, 3, *sub.Answers[1].UserAnswer)

	resp2, body := s.get(t, "/api/v1/sessions/ct-1", token)
	assert.Equal(t, http.StatusOK, resp2.StatusCode)
	assert.Equal(t, "no-store", resp2.Header.Get("Cache-Control"))
	data := body["data"].(map[string]interface{})
	assert.Equal(t, "SUBMITTED", data["state"])

	// Reconnecting after the submission cannot start a second attempt.
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool {
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		if err == nil || resp == nil {
			return false
		}
		defer resp.Body.Close()
		var envelope struct {
			Error struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return resp.StatusCode == http.StatusConflict && envelope.Error.Code == "SESSION_FINISHED"
	}, 3*time.Second, 200*time.Millisecond)

	s.backend.mu.Lock()
	assert.Len(t, s.backend.submitted, 1)
	s.backend.mu.Unlock()
}

func TestSessionStreamRejectsBadRequests(t *testing.T) {
	s := newStack(t)
	token := s.participantToken(t)

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"no token", "/ws/v1/sessions/ct-1/stream?question_group_id=qg", http.StatusUnauthorized},
		{"no source", "/ws/v1/sessions/ct-1/stream?token=" + token, http.StatusBadRequest},
		{"both sources", "/ws/v1/sessions/ct-1/stream?question_group_id=a&certification_id=b&token=" + token, http.StatusBadRequest},
		{"bad id", "/ws/v1/sessions/ct%3A1/stream?question_group_id=qg&token=" + token, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, resp, err := websocket.DefaultDialer.Dial(s.wsURL(tt.path), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSnapshotOfOtherParticipantIsHidden(t *testing.T) {
	s := newStack(t)
	token := s.participantToken(t)

	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL("/ws/v1/sessions/ct-2/stream?certification_id=c1&token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, stateIs("ACTIVE"))

	other, err := s.auth.GenerateParticipantToken("t1", "e2")
	require.NoError(t, err)

	resp, _ := s.get(t, "/api/v1/sessions/ct-2", other)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = s.get(t, "/api/v1/sessions/ct-2", token)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestProctorRoutesRequirePermission(t *testing.T) {
	s := newStack(t)

	participant := s.participantToken(t)
	noPerm, err := s.auth.GenerateProctorToken("t1", "p1", nil)
	require.NoError(t, err)
	monitor, err := s.auth.GenerateProctorToken("t1", "p1", []string{service.PermissionMonitor})
	require.NoError(t, err)

	resp, _ := s.get(t, "/api/v1/proctor/summary", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = s.get(t, "/api/v1/proctor/summary", participant)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = s.get(t, "/api/v1/proctor/summary", noPerm)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := s.get(t, "/api/v1/proctor/summary", monitor)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	data := body["data"].(map[string]interface{})
	counts := data["violation_counts"].(map[string]interface{})
	assert.Equal(t, float64(1), counts["ct-9"])

	resp, _ = s.get(t, "/api/v1/proctor/review?question_group_id=qg-1", monitor)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestReviewIncludesAnswerKey(t *testing.T) {
	s := newStack(t)
	reviewer, err := s.auth.GenerateProctorToken("t1", "p1", []string{service.PermissionReview})
	require.NoError(t, err)

	resp, body := s.get(t, "/api/v1/proctor/review?question_group_id=qg-1", reviewer)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1800), data["time_limit_seconds"])
	questions := data["questions"].([]interface{})
	require.Len(t, questions, 2)
	first := questions[0].(map[string]interface{})
	assert.Equal(t, float64(2), first["correct_option"])
}

func TestHealth(t *testing.T) {
	s := newStack(t)
	resp, body := s.get(t, "/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["redis"])
}

func TestMonitorStreamForwardsEvents(t *testing.T) {
	s := newStack(t)
	monitor, err := s.auth.GenerateProctorToken("t1", "p1", []string{service.PermissionMonitor})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.server.URL+"/api/v1/proctor/monitor", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+monitor)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	// next returns the data lines read until one matches.
	next := func(match func(string) bool) []string {
		t.Helper()
		var seen []string
		timeout := time.After(5 * time.Second)
		for {
			select {
			case line, ok := <-lines:
				require.True(t, ok, "stream closed")
				if !strings.HasPrefix(line, "data:") {
					continue
				}
				seen = append(seen, line)
				if match(line) {
					return seen
				}
			case <-timeout:
				t.Fatal("timed out reading the monitor stream")
			}
		}
	}
	contains := func(sub string) func(string) bool {
		return func(line string) bool { return strings.Contains(line, sub) }
	}

	snapshot := next(contains(`"type":"snapshot"`))
	assert.Contains(t, snapshot[len(snapshot)-1], `"ct-9":1`)

	channel := config.CacheKey.ProctorMonitorChannel("t1")
	require.Eventually(t, func() bool {
		n, err := s.rdb.PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.events.PublishMonitor(ctx, "t1", &model.MonitorEvent{
		Type:              model.MonitorEventViolation,
		CertTransactionID: "ct-42",
		EmployeeID:        "e1",
		Detail:            "hidden",
		At:                time.Now().UTC(),
	}))

	before := next(contains(`"cert_transaction_id":"ct-42"`))
	for _, line := range before {
		assert.NotContains(t, line, `"type":"refresh"`, "no refresh without new events")
	}
	assert.Contains(t, before[len(before)-1], `"type":"violation"`)

	next(contains(`"type":"refresh"`))
	next(contains(`"type":"ping"`))

	// Events of other tenants stay out of this stream.
	require.NoError(t, s.events.PublishMonitor(ctx, "t2", &model.MonitorEvent{
		Type:              model.MonitorEventStarted,
		CertTransactionID: "ct-other",
		At:                time.Now().UTC(),
	}))
	for _, line := range next(contains(`"type":"ping"`)) {
		assert.NotContains(t, line, "ct-other")
	}
}
