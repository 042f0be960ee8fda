// Command issue-token mints participant and proctor tokens for local
// testing against the proctor service.
package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		v, _ := reader.ReadString('\n')
		return strings.TrimSpace(v)
	}

	fmt.Println("=== Issue Proctor Service Token ===")

	// The default secret is a placeholder; ask for the real one.
	if os.Getenv("JWT_SECRET") == "" {
		fmt.Print("Enter JWT Secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Println("Error reading secret")
			os.Exit(1)
		}
		if len(secret) < 16 {
			fmt.Println("Error: Secret must be at least 16 characters")
			os.Exit(1)
		}
		cfg.JWTSecret = string(secret)
	}

	authService := service.NewAuthService(cfg)

	kind := prompt("Token type (participant/proctor): ")
	tenantID := prompt("Enter Tenant ID: ")

	var (
		token string
		err   error
	)
	switch service.TokenType(kind) {
	case service.TokenTypeParticipant:
		employeeID := prompt("Enter Employee ID: ")
		token, err = authService.GenerateParticipantToken(tenantID, employeeID)
	case service.TokenTypeProctor:
		subject := prompt("Enter Proctor Name: ")
		perms := prompt(fmt.Sprintf("Permissions (comma separated, default %s,%s): ", service.PermissionMonitor, service.PermissionReview))
		permissions := []string{service.PermissionMonitor, service.PermissionReview}
		if perms != "" {
			permissions = permissions[:0]
			for _, p := range strings.Split(perms, ",") {
				if p = strings.TrimSpace(p); p != "" {
					permissions = append(permissions, p)
				}
			}
		}
		token, err = authService.GenerateProctorToken(tenantID, subject, permissions)
	default:
		fmt.Printf("Error: unknown token type %q\n", kind)
		os.Exit(1)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nToken (expires in %s):\n%s\n", cfg.JWTExpiry, token)
}
