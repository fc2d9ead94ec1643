package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/time/rate"

	"github.com/javajoker/marketstock/internal/models"
	"github.com/javajoker/marketstock/internal/repository"
	"github.com/javajoker/marketstock/internal/utils"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	goleak.VerifyTestMain(m)
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func serve(r *gin.Engine, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(`{"quantity":1}`))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-secret")
	r := gin.New()
	r.GET("/me", AuthRequired(), func(c *gin.Context) {
		userID, _ := utils.GetUserIDFromContext(c)
		c.String(http.StatusOK, userID)
	})

	id := uuid.New()
	token, err := utils.GenerateJWT(id, "sam", "seller", 1)
	require.NoError(t, err)

	w := serve(r, http.MethodGet, "/me", token)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, id.String(), w.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", "not.a.jwt").Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Basic "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	utils.SetJWTSecret("rotated")
	assert.Equal(t, http.StatusUnauthorized, serve(r, http.MethodGet, "/me", token).Code)
}

func TestRoleRequired(t *testing.T) {
	utils.SetJWTSecret("middleware-secret")
	r := gin.New()
	r.POST("/orders", AuthRequired(), RoleRequired(models.UserRoleBuyer), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})

	buyer, err := utils.GenerateJWT(uuid.New(), "bea", "buyer", 1)
	require.NoError(t, err)
	seller, err := utils.GenerateJWT(uuid.New(), "sam", "seller", 1)
	require.NoError(t, err)

	assert.Equal(t, http.StatusCreated, serve(r, http.MethodPost, "/orders", buyer).Code)
	assert.Equal(t, http.StatusForbidden, serve(r, http.MethodPost, "/orders", seller).Code)
}

func TestRateLimiterRejectsBurst(t *testing.T) {
	limiter := NewRateLimiter(rate.Every(time.Second), 2, ByClientIP)
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", "").Code)
	assert.Equal(t, http.StatusOK, serve(r, http.MethodGet, "/", "").Code)
	w := serve(r, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestRateLimiterByCallerSeparatesUsers(t *testing.T) {
	limiter := NewRateLimiter(rate.Every(time.Second), 1, ByCaller)
	defer limiter.Stop()

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", c.GetHeader("X-User"))
		c.Next()
	}, limiter.Middleware())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, hit("a"))
	assert.Equal(t, http.StatusTooManyRequests, hit("a"))
	assert.Equal(t, http.StatusOK, hit("b"))
}

func TestRateLimiterStopIsIdempotent(t *testing.T) {
	limiter := NewRateLimiter(rate.Limit(1), 1, nil)
	limiter.Stop()
	limiter.Stop()
}

func TestRequestIDPropagates(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(quietLogger()))
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, c.GetString("request_id")) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", w.Body.String())

	w = serve(r, http.MethodGet, "/", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestAuditLogRecordsMutations(t *testing.T) {
	repo := repository.NewMemory()
	r := gin.New()
	r.Use(AuditLogMiddleware(repo, quietLogger()))
	orderID := uuid.New()
	r.PUT("/v1/orders/:id/items", func(c *gin.Context) {
		c.Set("user_id", uuid.New().String())
		c.Status(http.StatusOK)
	})
	r.GET("/v1/orders/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	serve(r, http.MethodGet, "/v1/orders/"+orderID.String(), "")
	require.Empty(t, repo.AuditLogs())

	serve(r, http.MethodPut, "/v1/orders/"+orderID.String()+"/items", "")
	logs := repo.AuditLogs()
	require.Len(t, logs, 1)
	assert.Equal(t, "PUT /v1/orders/:id/items", logs[0].Action)
	assert.Equal(t, "orders", logs[0].ResourceType)
	require.NotNil(t, logs[0].ResourceID)
	assert.Equal(t, orderID, *logs[0].ResourceID)
	assert.NotNil(t, logs[0].UserID)
	assert.EqualValues(t, 1, logs[0].NewValues["quantity"])
}
