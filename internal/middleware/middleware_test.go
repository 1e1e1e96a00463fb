package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/jidokhae/backend/internal/auth"
	"github.com/jidokhae/backend/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter(jwtSvc *auth.JWTService, allowQuery bool, extra ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	handlers := append([]gin.HandlerFunc{JWT(jwtSvc, allowQuery)}, extra...)
	handlers = append(handlers, func(c *gin.Context) {
		id, role := Principal(c)
		c.JSON(http.StatusOK, gin.H{"user_id": id, "role": role})
	})
	r.GET("/p", handlers...)
	return r
}

func do(r http.Handler, path, authz string) int {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWT(t *testing.T) {
	t.Parallel()

	svc := auth.NewJWTService("test-secret")
	token, err := svc.Generate(uuid.New(), models.RoleMember, "책벌레", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	cases := []struct {
		name       string
		allowQuery bool
		path       string
		authz      string
		want       int
	}{
		{"bearer header", false, "/p", "Bearer " + token, http.StatusOK},
		{"missing header", false, "/p", "", http.StatusUnauthorized},
		{"wrong scheme", false, "/p", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", false, "/p", "Bearer nope", http.StatusUnauthorized},
		{"query token allowed", true, "/p?token=" + token, "", http.StatusOK},
		{"query token refused", false, "/p?token=" + token, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		if got := do(newRouter(svc, tc.allowQuery), tc.path, tc.authz); got != tc.want {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestRequireOperator(t *testing.T) {
	t.Parallel()

	svc := auth.NewJWTService("test-secret")
	member, _ := svc.Generate(uuid.New(), models.RoleMember, "", time.Hour)
	admin, _ := svc.Generate(uuid.New(), models.RoleAdmin, "", time.Hour)
	super, _ := svc.Generate(uuid.New(), models.RoleSuperAdmin, "", time.Hour)

	r := newRouter(svc, false, RequireOperator())
	if got := do(r, "/p", "Bearer "+member); got != http.StatusForbidden {
		t.Fatalf("member: expected 403, got %d", got)
	}
	if got := do(r, "/p", "Bearer "+admin); got != http.StatusOK {
		t.Fatalf("admin: expected 200, got %d", got)
	}
	if got := do(r, "/p", "Bearer "+super); got != http.StatusOK {
		t.Fatalf("super_admin: expected 200, got %d", got)
	}
}

func TestCronSecret(t *testing.T) {
	t.Parallel()

	route := func(secret string) *gin.Engine {
		r := gin.New()
		r.POST("/cron", CronSecret(secret), func(c *gin.Context) { c.Status(http.StatusNoContent) })
		return r
	}
	post := func(r http.Handler, authz string) int {
		req := httptest.NewRequest(http.MethodPost, "/cron", nil)
		if authz != "" {
			req.Header.Set("Authorization", authz)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	r := route("s3cret")
	if got := post(r, "Bearer s3cret"); got != http.StatusNoContent {
		t.Fatalf("expected pass with secret, got %d", got)
	}
	if got := post(r, "Bearer wrong"); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong secret, got %d", got)
	}
	if got := post(r, ""); got != http.StatusUnauthorized {
		t.Fatalf("expected 401 without header, got %d", got)
	}
	if got := post(route(""), "Bearer "); got != http.StatusUnauthorized {
		t.Fatalf("expected empty secret to reject, got %d", got)
	}
}
