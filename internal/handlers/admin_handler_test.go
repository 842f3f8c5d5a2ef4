package handlers

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/models"
	"etfdiscovery/internal/pagination"
	"etfdiscovery/internal/services"
)

// --- mock maintenance service ---

type mockMaintenanceService struct {
	refreshFn func(ctx context.Context) (*services.RefreshReport, error)
	healthFn  func() services.HealthReport
}

var _ services.MaintenanceServicer = (*mockMaintenanceService)(nil)

func (m *mockMaintenanceService) Refresh(ctx context.Context) (*services.RefreshReport, error) {
	if m.refreshFn != nil {
		return m.refreshFn(ctx)
	}
	return &services.RefreshReport{}, nil
}

func (m *mockMaintenanceService) Health() services.HealthReport {
	if m.healthFn != nil {
		return m.healthFn()
	}
	return services.HealthReport{Status: services.HealthOK}
}

// --- router setup ---

func setupAdminRouter(handler *AdminHandler) *gin.Engine {
	r := gin.New()
	r.Use(injectRequestID("req-4"))
	r.GET("/health", handler.Health)
	r.POST("/admin/refresh", handler.Refresh)
	r.GET("/admin/audit-logs", handler.ListAuditLogs)
	return r
}

// --- tests ---

func TestAdminHandler_Refresh(t *testing.T) {
	t.Run("returns_report_and_audits", func(t *testing.T) {
		svc := &mockMaintenanceService{
			refreshFn: func(context.Context) (*services.RefreshReport, error) {
				return &services.RefreshReport{SnapshotVersion: "snap-2", Instruments: 7, RuleSets: 8, RuleSetsAdded: 1}, nil
			},
		}
		audit := &mockAuditService{}
		r := setupAdminRouter(NewAdminHandler(svc, audit))

		rec := doRequest(r, "POST", "/admin/refresh", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		result := parseJSON(t, rec)
		if result["snapshotVersion"] != "snap-2" || result["instruments"] != float64(7) {
			t.Errorf("unexpected report %v", result)
		}
		if len(audit.entries) != 1 || audit.entries[0].action != "REFRESH_CATALOG" || audit.entries[0].resourceID != "snap-2" {
			t.Errorf("unexpected audit entries %+v", audit.entries)
		}
	})

	t.Run("returns_503_when_catalog_fails", func(t *testing.T) {
		svc := &mockMaintenanceService{
			refreshFn: func(context.Context) (*services.RefreshReport, error) {
				return nil, apperrors.ErrCatalogUnavailable
			},
		}
		audit := &mockAuditService{}
		r := setupAdminRouter(NewAdminHandler(svc, audit))

		rec := doRequest(r, "POST", "/admin/refresh", "")

		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
		}
		assertErrorCode(t, parseJSON(t, rec), "CATALOG_UNAVAILABLE")
		if len(audit.entries) != 0 {
			t.Errorf("expected no audit entry, got %d", len(audit.entries))
		}
	})
}

func TestAdminHandler_ListAuditLogs(t *testing.T) {
	t.Run("returns_page", func(t *testing.T) {
		audit := &mockAuditService{
			listFn: func(page pagination.PageRequest) (*pagination.PageResponse[models.AuditLog], error) {
				resp := pagination.NewPageResponse([]models.AuditLog{{Action: "DISCOVER"}}, page.Page, page.PageSize, 1)
				return &resp, nil
			},
		}
		r := setupAdminRouter(NewAdminHandler(&mockMaintenanceService{}, audit))

		rec := doRequest(r, "GET", "/admin/audit-logs?page=1&page_size=10", "")

		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
		result := parseJSON(t, rec)
		if result["page_size"] != float64(10) {
			t.Errorf("expected page_size=10, got %v", result["page_size"])
		}
		if data := result["data"].([]interface{}); len(data) != 1 {
			t.Errorf("expected 1 entry, got %d", len(data))
		}
	})

	t.Run("returns_500_on_store_error", func(t *testing.T) {
		audit := &mockAuditService{
			listFn: func(pagination.PageRequest) (*pagination.PageResponse[models.AuditLog], error) {
				return nil, apperrors.ErrInternalServer
			},
		}
		r := setupAdminRouter(NewAdminHandler(&mockMaintenanceService{}, audit))

		rec := doRequest(r, "GET", "/admin/audit-logs", "")

		if rec.Code != http.StatusInternalServerError {
			t.Fatalf("expected 500, got %d: %s", rec.Code, rec.Body.String())
		}
		assertErrorCode(t, parseJSON(t, rec), "INTERNAL_ERROR")
	})
}

func TestAdminHandler_Health(t *testing.T) {
	tests := []struct {
		status string
		want   int
	}{
		{services.HealthOK, http.StatusOK},
		{services.HealthDegraded, http.StatusOK},
		{services.HealthUnavailable, http.StatusServiceUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			svc := &mockMaintenanceService{
				healthFn: func() services.HealthReport {
					return services.HealthReport{Status: tc.status, RuleSets: 7}
				},
			}
			r := setupAdminRouter(NewAdminHandler(svc, &mockAuditService{}))

			rec := doRequest(r, "GET", "/health", "")

			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
			if got := parseJSON(t, rec)["status"]; got != tc.status {
				t.Errorf("expected status %q, got %v", tc.status, got)
			}
		})
	}
}
