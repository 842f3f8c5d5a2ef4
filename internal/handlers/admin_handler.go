package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/pagination"
	"etfdiscovery/internal/services"
)

// AdminHandler handles operational requests: refreshes, health and audit
// inspection.
type AdminHandler struct {
	maintenanceService services.MaintenanceServicer
	auditService       services.AuditServicer
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(maintenanceService services.MaintenanceServicer, auditService services.AuditServicer) *AdminHandler {
	return &AdminHandler{maintenanceService: maintenanceService, auditService: auditService}
}

// Refresh handles a manual catalog and rule-set refresh.
// @Summary     Refresh catalog
// @Description Reload the instrument catalog and pick up newly published rule sets (admin endpoint)
// @Tags        admin
// @Produce     json
// @Security    ApiKeyAuth
// @Success     200 {object} services.RefreshReport "Refresh report"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     503 {object} ErrorResponse "Catalog or eligibility engine unavailable"
// @Router      /admin/refresh [post]
func (h *AdminHandler) Refresh(c *gin.Context) {
	report, err := h.maintenanceService.Refresh(c.Request.Context())
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(requestID(c), "REFRESH_CATALOG", "snapshot", report.SnapshotVersion, c.ClientIP(),
		map[string]any{"instruments": report.Instruments, "rule_sets_added": report.RuleSetsAdded})

	c.JSON(http.StatusOK, report)
}

// ListAuditLogs handles listing audit entries.
// @Summary     List audit logs
// @Description Get a paginated list of audit entries, newest first (admin endpoint)
// @Tags        admin
// @Produce     json
// @Security    ApiKeyAuth
// @Param       page      query int false "Page number (default 1)"
// @Param       page_size query int false "Items per page (default 20, max 100)"
// @Success     200 {object} pagination.PageResponse[models.AuditLog] "Paginated audit logs"
// @Failure     400 {object} ErrorResponse "Invalid input"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     500 {object} ErrorResponse "Server error"
// @Router      /admin/audit-logs [get]
func (h *AdminHandler) ListAuditLogs(c *gin.Context) {
	var page pagination.PageRequest
	if err := c.ShouldBindQuery(&page); err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}

	result, err := h.auditService.List(page)
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Health handles the health probe. It answers 503 while the engine cannot
// serve discovery.
// @Summary     Health check
// @Description Report snapshot version and age, instrument count and rule-set count
// @Tags        health
// @Produce     json
// @Success     200 {object} services.HealthReport "Healthy or degraded"
// @Failure     503 {object} services.HealthReport "Unavailable"
// @Router      /health [get]
func (h *AdminHandler) Health(c *gin.Context) {
	report := h.maintenanceService.Health()
	status := http.StatusOK
	if report.Status == services.HealthUnavailable {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}
