package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shinypull/backend/internal/auth"
)

func newRouter(svc *auth.JWTService, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Logger(logger))
	api := r.Group("/", JWT(svc))
	api.GET("/read", func(c *gin.Context) { c.Status(http.StatusOK) })
	api.POST("/jobs", RequireRole(auth.RoleOperator), func(c *gin.Context) { c.Status(http.StatusAccepted) })
	return r
}

func do(r http.Handler, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRoles(t *testing.T) {
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, zap.NewNop())

	reader, err := svc.Generate("dash", auth.RoleReader, 0)
	require.NoError(t, err)
	operator, err := svc.Generate("ops", auth.RoleOperator, 0)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/read", ""))
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/read", "garbage"))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/read", reader))
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/jobs", reader))
	assert.Equal(t, http.StatusAccepted, do(r, http.MethodPost, "/jobs", operator))
}

func TestLoggerRecordsSubject(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	svc := auth.NewJWTService("secret", 1)
	r := newRouter(svc, zap.New(core))
	tok, err := svc.Generate("dash", auth.RoleReader, 0)
	require.NoError(t, err)

	do(r, http.MethodGet, "/read", tok)

	entries := logs.FilterMessage("request").All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "dash", ctx["subject"])
	assert.EqualValues(t, http.StatusOK, ctx["status"])
}

func TestRequireRoleRanks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := auth.NewJWTService("secret", 1)
	r := gin.New()
	r.GET("/read", JWT(svc), RequireRole(auth.RoleReader), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/bare", RequireRole(auth.RoleReader), func(c *gin.Context) { c.Status(http.StatusOK) })

	operator, err := svc.Generate("ops", auth.RoleOperator, 0)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/read", operator))
	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/bare", ""))
	assert.Panics(t, func() { RequireRole("admin") })
}
