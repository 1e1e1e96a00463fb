package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/models"
)

func issueToken(secret, userID, role, nickname string, ttl time.Duration) (string, error) {
	id := uuid.New()
	if userID != "" {
		parsed, err := uuid.Parse(userID)
		if err != nil {
			return "", fmt.Errorf("invalid --user: %w", err)
		}
		id = parsed
	}
	r := models.Role(role)
	switch r {
	case models.RoleMember, models.RoleAdmin, models.RoleSuperAdmin:
	default:
		return "", fmt.Errorf("invalid --role %q", role)
	}
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	return auth.NewJWTService(secret).Generate(id, r, nickname, ttl)
}
