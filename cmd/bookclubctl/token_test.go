package main

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/models"
)

func TestIssueToken(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	tok, err := issueToken("secret", id.String(), "admin", "운영자", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := auth.NewJWTService("secret").Validate(tok)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != id || claims.Role != models.RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestIssueTokenRejectsBadInput(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		user string
		role string
		ttl  time.Duration
	}{
		{"bad user", "not-a-uuid", "member", time.Hour},
		{"bad role", "", "owner", time.Hour},
		{"zero ttl", "", "member", 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := issueToken("secret", tc.user, tc.role, "", tc.ttl); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
