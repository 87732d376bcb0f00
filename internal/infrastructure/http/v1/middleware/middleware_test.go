package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tireshop/internal/core/apperror"
	appctx "tireshop/internal/core/context"
	"tireshop/internal/infrastructure/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubValidator struct {
	user appctx.AuthenticatedUser
	err  error
}

func (s stubValidator) ValidateToken(string) (appctx.AuthenticatedUser, error) {
	return s.user, s.err
}

type fakeKeys struct {
	replay    *postgres.IdempotencyReplay
	acquireEr error

	acquired  []string
	completed map[string]int
	failed    map[string]int
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{completed: map[string]int{}, failed: map[string]int{}}
}

func (f *fakeKeys) AcquireKey(_ context.Context, key string, userID int64, operation, _ string) (*postgres.IdempotencyReplay, error) {
	f.acquired = append(f.acquired, key+"|"+operation)
	return f.replay, f.acquireEr
}

func (f *fakeKeys) CompleteKey(_ context.Context, key string, statusCode int, _ string, _ any) error {
	f.completed[key] = statusCode
	return nil
}

func (f *fakeKeys) FailKey(_ context.Context, key string, statusCode int, _ string, _ any) error {
	f.failed[key] = statusCode
	return nil
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuth(t *testing.T) {
	user := appctx.AuthenticatedUser{ID: 7, Roles: []string{"counter"}}

	newRouter := func(v JWTValidator) *gin.Engine {
		r := gin.New()
		r.Use(ErrorHandler(), Auth(v))
		r.GET("/me", func(c *gin.Context) {
			u, _ := appctx.GetUser(c.Request.Context())
			c.JSON(http.StatusOK, gin.H{"id": u.ID})
		})
		return r
	}

	tests := []struct {
		name   string
		header string
		v      JWTValidator
		status int
	}{
		{"missing header", "", stubValidator{user: user}, http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", stubValidator{user: user}, http.StatusUnauthorized},
		{"invalid token", "Bearer abc", stubValidator{err: errors.New("bad")}, http.StatusUnauthorized},
		{"valid token", "Bearer abc", stubValidator{user: user}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.v).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.EqualValues(t, 7, decode(t, w)["id"])
			} else {
				assert.Equal(t, apperror.CodeUnauthorized, decode(t, w)["code"])
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	run := func(user appctx.AuthenticatedUser) int {
		r := gin.New()
		r.Use(ErrorHandler(), Auth(stubValidator{user: user}), RequireRole("stock:write"))
		r.POST("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

		req := httptest.NewRequest(http.MethodPost, "/x", nil)
		req.Header.Set("Authorization", "Bearer t")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, run(appctx.AuthenticatedUser{ID: 1, Roles: []string{"stock:write"}}))
	assert.Equal(t, http.StatusNoContent, run(appctx.AuthenticatedUser{ID: 1, Override: true}))
	assert.Equal(t, http.StatusForbidden, run(appctx.AuthenticatedUser{ID: 1, Roles: []string{"counter"}}))
}

func TestErrorHandler(t *testing.T) {
	r := gin.New()
	r.Use(Trace(), ErrorHandler())
	r.GET("/app", func(c *gin.Context) {
		_ = c.Error(apperror.NewNotFound("inventory_count", "abc"))
	})
	r.GET("/raw", func(c *gin.Context) {
		_ = c.Error(errors.New("boom"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/app", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	body := decode(t, w)
	assert.Equal(t, apperror.CodeNotFound, body["code"])
	assert.Equal(t, "inventory_count", body["details"].(map[string]any)["entity"])

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/raw", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	body = decode(t, w)
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotEmpty(t, body["details"].(map[string]any)["request_id"])
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(), Trace(), ErrorHandler())
	r.GET("/panic", func(c *gin.Context) { panic("kaboom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/panic", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, decode(t, w)["code"])
}

func TestTrace(t *testing.T) {
	r := gin.New()
	r.Use(Trace())
	r.GET("/t", func(c *gin.Context) {
		c.String(http.StatusOK, appctx.GetRequestID(c.Request.Context()))
	})

	req := httptest.NewRequest(http.MethodGet, "/t", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "req-1", w.Body.String())
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

func idempotentRouter(keys IdempotencyKeys, handler gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler(), Auth(stubValidator{user: appctx.AuthenticatedUser{ID: 3}}), Idempotency(keys))
	r.POST("/counts/:id/start", handler)
	r.GET("/counts/:id", handler)
	return r
}

func send(r *gin.Engine, method, path, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer t")
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_CompletesOnSuccess(t *testing.T) {
	keys := newFakeKeys()
	r := idempotentRouter(keys, func(c *gin.Context) {
		CompleteIdempotency(c, http.StatusOK, gin.H{"ok": true})
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	w := send(r, http.MethodPost, "/counts/abc/start", "k1", `{}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"k1|POST /counts/abc/start"}, keys.acquired)
	assert.Equal(t, http.StatusOK, keys.completed["k1"])
}

func TestIdempotency_FailsKeyOnError(t *testing.T) {
	keys := newFakeKeys()
	r := idempotentRouter(keys, func(c *gin.Context) {
		_ = c.Error(apperror.NewInvalidState("inventory_count", "completed", "in_progress"))
	})

	w := send(r, http.MethodPost, "/counts/abc/start", "k2", `{}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, http.StatusConflict, keys.failed["k2"])
	assert.Empty(t, keys.completed)
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	keys := newFakeKeys()
	keys.replay = &postgres.IdempotencyReplay{StatusCode: http.StatusCreated, ContentType: "application/json", Body: []byte(`{"id":"x"}`)}
	called := false
	r := idempotentRouter(keys, func(c *gin.Context) { called = true })

	w := send(r, http.MethodPost, "/counts/abc/start", "k3", `{}`)

	assert.False(t, called)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"id":"x"}`, w.Body.String())
}

func TestIdempotency_ConflictFromStore(t *testing.T) {
	keys := newFakeKeys()
	keys.acquireEr = apperror.NewIdempotencyConflict("k4")
	r := idempotentRouter(keys, func(c *gin.Context) { c.Status(http.StatusOK) })

	w := send(r, http.MethodPost, "/counts/abc/start", "k4", `{}`)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeIdempotencyConflict, decode(t, w)["code"])
}

func TestIdempotency_SkipsWithoutKeyOrOnReads(t *testing.T) {
	keys := newFakeKeys()
	r := idempotentRouter(keys, func(c *gin.Context) { c.Status(http.StatusOK) })

	send(r, http.MethodPost, "/counts/abc/start", "", `{}`)
	send(r, http.MethodGet, "/counts/abc", "k5", "")

	assert.Empty(t, keys.acquired)
}
