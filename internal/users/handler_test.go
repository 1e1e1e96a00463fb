package users

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/middleware"
	"github.com/jidokhae/backend/internal/models"
)

type memStore struct {
	users     map[uuid.UUID]*models.User
	ensured   []Profile
	ensureErr error
}

func (s *memStore) Ensure(_ context.Context, p Profile) error {
	if s.ensureErr != nil {
		return s.ensureErr
	}
	s.ensured = append(s.ensured, p)
	if _, ok := s.users[p.ID]; !ok {
		s.users[p.ID] = &models.User{ID: p.ID, Nickname: p.Nickname, Phone: p.Phone, Role: p.Role}
	}
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	return s.users[id], nil
}

func (s *memStore) UpdateContact(_ context.Context, id uuid.UUID, nickname, phone string) error {
	u := s.users[id]
	u.Nickname, u.Phone = nickname, phone
	return nil
}

func init() {
	gin.SetMode(gin.TestMode)
}

func setup(t *testing.T, store *memStore) (*gin.Engine, string, uuid.UUID) {
	t.Helper()
	jwtSvc := auth.NewJWTService("test-secret")
	userID := uuid.New()
	token, err := jwtSvc.Generate(userID, models.RoleMember, "책벌레", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	h := NewHandler(store, nil)
	r := gin.New()
	g := r.Group("/", middleware.JWT(jwtSvc, false), EnsureProfile(store, nil))
	g.GET("/me", h.Me)
	g.PUT("/me", h.UpdateMe)
	return r, token, userID
}

func TestEnsureProfileAndMe(t *testing.T) {
	t.Parallel()

	store := &memStore{users: map[uuid.UUID]*models.User{}}
	r, token, userID := setup(t, store)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if len(store.ensured) != 1 || store.ensured[0].ID != userID || store.ensured[0].Nickname != "책벌레" {
		t.Fatalf("expected profile mirrored from token, got %+v", store.ensured)
	}

	body := strings.NewReader(`{"nickname":" 새이름 ","phone":"010-1234-5678"}`)
	req = httptest.NewRequest(http.MethodPut, "/me", body)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if u := store.users[userID]; u.Nickname != "새이름" || u.Phone != "010-1234-5678" {
		t.Fatalf("unexpected stored profile %+v", u)
	}
}

func TestEnsureProfileFailure(t *testing.T) {
	t.Parallel()

	store := &memStore{users: map[uuid.UUID]*models.User{}, ensureErr: errors.New("db down")}
	r, token, _ := setup(t, store)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
}
