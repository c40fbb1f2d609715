package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"realtime-service/internal/logger"
	"realtime-service/internal/mocks"
	"realtime-service/internal/telemetry"
)

type fixedCounter int

func (f fixedCounter) Len() int { return int(f) }

func TestDebugRoutesDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterDebugRoutes(r, nil, fixedCounter(0), false)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/connections", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDebugRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	publisher := new(mocks.PublisherMock)
	publisher.On("Publish", mock.Anything, "audit.logs", mock.Anything, mock.MatchedBy(func(h map[string]string) bool {
		return h["x-request-id"] == "req-1"
	})).Return(nil).Once()
	emitter := telemetry.NewAuditEmitter(publisher, "audit.logs", "realtime-service", "test", logger.NewNop())

	r := gin.New()
	RegisterDebugRoutes(r, emitter, fixedCounter(3), true)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/connections", nil))
	assert.JSONEq(t, `{"connections":3}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/debug/audit-test", nil)
	req.Header.Set("X-Request-ID", "req-1")
	req.Header.Set("X-User-ID", "8")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
}
