package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/stomplink/internal/auth"
)

const testSecret = "cli-test-secret-at-least-32-characters"

// execute runs the command tree with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	path := writeConfig(t, `
bridge:
  id: test-bridge
security:
  jwt:
    secret: "`+testSecret+`"
    access_token_ttl: 60
`)

	tests := []struct {
		name     string
		args     []string
		wantRole auth.Role
		wantTTL  time.Duration
	}{
		{"default role", []string{"token", "alice", "--config", path}, auth.RoleViewer, time.Hour},
		{"operator", []string{"token", "bob", "--role", "operator", "-c", path}, auth.RoleOperator, time.Hour},
		{"explicit ttl", []string{"token", "carol", "--ttl", "5m", "-c", path}, auth.RoleViewer, 5 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := execute(t, tt.args...)
			if err != nil {
				t.Fatalf("token error = %v", err)
			}
			claims, err := auth.ParseToken(strings.TrimSpace(out), testSecret)
			if err != nil {
				t.Fatalf("ParseToken() error = %v", err)
			}
			if claims.Subject != tt.args[1] {
				t.Errorf("Subject = %q, want %q", claims.Subject, tt.args[1])
			}
			if claims.Role != tt.wantRole {
				t.Errorf("Role = %q, want %q", claims.Role, tt.wantRole)
			}
			ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
			if ttl != tt.wantTTL {
				t.Errorf("lifetime = %v, want %v", ttl, tt.wantTTL)
			}
		})
	}
}

func TestTokenCommand_Errors(t *testing.T) {
	withSecret := writeConfig(t, `
bridge:
  id: test-bridge
security:
  jwt:
    secret: "`+testSecret+`"
`)
	noSecret := writeConfig(t, "bridge:\n  id: test-bridge\n")

	tests := []struct {
		name string
		args []string
	}{
		{"missing subject", []string{"token", "-c", withSecret}},
		{"unknown role", []string{"token", "alice", "--role", "admin", "-c", withSecret}},
		{"no secret", []string{"token", "alice", "-c", noSecret}},
		{"missing config", []string{"token", "alice", "-c", "/nonexistent/config.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STOMPLINK_JWT_SECRET", "")
			if _, err := execute(t, tt.args...); err == nil {
				t.Error("token should fail")
			}
		})
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "stomplink "+version) {
		t.Errorf("output = %q", out)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := newRootCmd()
	cmd.SetArgs([]string{"--config", "/nonexistent/path/config.yaml"})
	err := cmd.ExecuteContext(ctx)
	if err == nil || !strings.Contains(err.Error(), "loading config") {
		t.Errorf("ExecuteContext() error = %v, want config load failure", err)
	}
}
