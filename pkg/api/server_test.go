package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/khryptorgraphics/bmqsched/internal/config"
	"github.com/khryptorgraphics/bmqsched/pkg/sched"
)

func newTestServer(t *testing.T, jwtSecret string) *Server {
	gin.SetMode(gin.TestMode)
	s := sched.New(sched.DefaultConfig(2), nil, nil, nil, nil)
	logger := logrus.New()
	logger.SetOutput(nopWriter{})
	cfg := config.APIConfig{Listen: "127.0.0.1:0", JWTSecret: jwtSecret}
	return NewServer(cfg, s, logger, NewWSHub())
}

type nopWriter struct{}

func (nopWriter) Write(p []byte) (int, error) { return len(p), nil }

func signedToken(t *testing.T, secret string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestGetStatsReportsEveryCPU(t *testing.T) {
	srv := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/stats", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, float64(2), body["ncpu"])
}

func TestGetCPUOutOfRange(t *testing.T) {
	srv := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/cpus/99", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskUnknownIsNotFound(t *testing.T) {
	srv := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/ghost", nil)
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	srv := newTestServer(t, "secret")
	body, _ := json.Marshal(createTaskRequest{Name: "demo", Policy: "NORMAL"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCreateTaskWithValidTokenAssignsUUID(t *testing.T) {
	srv := newTestServer(t, "secret")
	body, _ := json.Marshal(createTaskRequest{Name: "demo", Policy: "NORMAL", Nice: 5})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret"))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var got map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "demo", got["name"])
	id, ok := got["id"].(string)
	require.True(t, ok)
	assert.Len(t, id, 36, "id must be a generated UUID string")
}

func TestCreateTaskRejectsUnknownPolicy(t *testing.T) {
	srv := newTestServer(t, "secret")
	body, _ := json.Marshal(createTaskRequest{Name: "demo", Policy: "NOT_A_POLICY"})
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+signedToken(t, "secret"))
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuthMiddlewareRejectsMalformedHeader(t *testing.T) {
	srv := newTestServer(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/x/yield", nil)
	req.Header.Set("Authorization", "Basic not-a-bearer-token")
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestParsePolicy(t *testing.T) {
	p, ok := parsePolicy("rr")
	assert.True(t, ok)
	assert.Equal(t, sched.PolicyRR, p)

	_, ok = parsePolicy("bogus")
	assert.False(t, ok)
}

func TestHTTPStatusMapsSentinelErrors(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, httpStatus(sched.ErrInvalid))
	assert.Equal(t, http.StatusNotFound, httpStatus(sched.ErrNoSuchTask))
	assert.Equal(t, http.StatusForbidden, httpStatus(sched.ErrPerm))
	assert.Equal(t, http.StatusInsufficientStorage, httpStatus(sched.ErrNoMemory))
}
