package handlers

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"etfdiscovery/internal/logger"
	"etfdiscovery/internal/models"
	"etfdiscovery/internal/pagination"
	"etfdiscovery/internal/services"
	"etfdiscovery/internal/validator"
)

func init() {
	gin.SetMode(gin.TestMode)
	logger.Init("test")
	validator.Register()
}

// --- mock audit service ---

type auditEntry struct {
	requestID    string
	action       string
	resourceType string
	resourceID   string
}

type mockAuditService struct {
	mu      sync.Mutex
	entries []auditEntry
	listFn  func(page pagination.PageRequest) (*pagination.PageResponse[models.AuditLog], error)
}

var _ services.AuditServicer = (*mockAuditService)(nil)

func (m *mockAuditService) Log(requestID, action, resourceType, resourceID, _ string, _ map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, auditEntry{requestID: requestID, action: action, resourceType: resourceType, resourceID: resourceID})
}

func (m *mockAuditService) List(page pagination.PageRequest) (*pagination.PageResponse[models.AuditLog], error) {
	if m.listFn != nil {
		return m.listFn(page)
	}
	resp := pagination.NewPageResponse([]models.AuditLog{}, 1, 20, 0)
	return &resp, nil
}

// --- test helpers ---

func injectRequestID(id string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("requestID", id)
		c.Next()
	}
}

func doRequest(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func parseJSON(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var result map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &result); err != nil {
		t.Fatalf("failed to parse JSON response: %v\nbody: %s", err, rec.Body.String())
	}
	return result
}

func assertErrorCode(t *testing.T, result map[string]interface{}, code string) {
	t.Helper()
	if result["code"] != code {
		t.Errorf("expected error code %q, got %v (body: %v)", code, result["code"], result)
	}
	if id, _ := result["requestId"].(string); id == "" {
		t.Errorf("expected requestId in error response, got: %v", result)
	}
}
