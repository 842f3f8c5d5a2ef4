package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "etfdiscovery/internal/errors"
	"etfdiscovery/internal/services"
)

// maxRuleSetSize bounds an uploaded rule-set definition.
const maxRuleSetSize = 1 << 20

// RuleSetHandler handles eligibility rule-set requests.
type RuleSetHandler struct {
	ruleSetService services.RuleSetServicer
	auditService   services.AuditServicer
}

// NewRuleSetHandler creates a new RuleSetHandler.
func NewRuleSetHandler(ruleSetService services.RuleSetServicer, auditService services.AuditServicer) *RuleSetHandler {
	return &RuleSetHandler{ruleSetService: ruleSetService, auditService: auditService}
}

// ListRuleSets handles listing published rule-set versions.
// @Summary     List rule sets
// @Description Get every published eligibility rule-set version, grouped by jurisdiction and account type
// @Tags        rulesets
// @Produce     json
// @Success     200 {object} map[string][]services.RuleSetSummary "Published rule sets"
// @Router      /rulesets [get]
func (h *RuleSetHandler) ListRuleSets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ruleSets": h.ruleSetService.ListRuleSets()})
}

// GetRuleSet handles retrieving one rule set.
// @Summary     Get rule set
// @Description Get the rules of a jurisdiction and account type. Without a version the latest is returned.
// @Tags        rulesets
// @Produce     json
// @Param       jurisdiction path  string true  "ISO 3166-1 alpha-2 jurisdiction"
// @Param       accountType  path  string true  "Account type"
// @Param       version      query string false "Rule-set version"
// @Success     200 {object} map[string]eligibility.RuleSet "Rule set"
// @Failure     404 {object} ErrorResponse "Rule set not found"
// @Router      /rulesets/{jurisdiction}/{accountType} [get]
func (h *RuleSetHandler) GetRuleSet(c *gin.Context) {
	rs, err := h.ruleSetService.GetRuleSet(c.Param("jurisdiction"), c.Param("accountType"), c.Query("version"))
	if err != nil {
		respondWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"ruleSet": rs})
}

// PublishRuleSet handles publishing a new rule-set version.
// @Summary     Publish rule set
// @Description Publish a YAML rule-set definition as the newest version for its jurisdiction and account type (admin endpoint)
// @Tags        admin
// @Accept      plain
// @Produce     json
// @Security    ApiKeyAuth
// @Param       request body string true "YAML rule-set definition"
// @Success     201 {object} map[string]eligibility.RuleSet "Rule set published"
// @Failure     400 {object} ErrorResponse "Invalid definition"
// @Failure     401 {object} ErrorResponse "Invalid API key"
// @Failure     409 {object} ErrorResponse "Version not newer than the latest"
// @Failure     503 {object} ErrorResponse "Admin endpoints not configured"
// @Router      /admin/rulesets [post]
func (h *RuleSetHandler) PublishRuleSet(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRuleSetSize+1))
	if err != nil {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, err.Error()))
		return
	}
	if len(body) == 0 || len(body) > maxRuleSetSize {
		respondWithError(c, apperrors.WithMessage(apperrors.ErrInvalidInput, "Rule-set definition must be between 1 byte and 1 MiB"))
		return
	}

	rs, err := h.ruleSetService.PublishRuleSet(c.Request.Context(), body)
	if err != nil {
		respondWithError(c, err)
		return
	}

	h.auditService.Log(requestID(c), "PUBLISH_RULESET", "ruleset", rs.Key().String()+"@"+rs.Version, c.ClientIP(),
		map[string]any{"rules": len(rs.Rules)})

	c.JSON(http.StatusCreated, gin.H{"ruleSet": rs})
}
