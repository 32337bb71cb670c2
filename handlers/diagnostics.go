package handlers

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/gofiber/fiber/v2"

	"platformenv/environment"
	"platformenv/middleware"
	"platformenv/provisioner"
	"platformenv/services"
	"platformenv/utils"
)

var variableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// VariableChecker is the part of the provisioner the handlers read
type VariableChecker interface {
	Hosting() provisioner.HostingContext
	TestVariable(name string) (provisioner.VariableCheck, bool)
}

// TierReader exposes the active deployment tier
type TierReader interface {
	Tier() environment.Tier
	IsLive() bool
}

// AdminReader returns the stored default admin
type AdminReader interface {
	DefaultAdmin(ctx context.Context) (services.AdminCredential, error)
}

// ReportSource returns the last provisioning report
type ReportSource interface {
	Report() *provisioner.Report
}

// DiagnosticsHandler serves the platform diagnostics endpoints
type DiagnosticsHandler struct {
	checker VariableChecker
	tier    TierReader
	reports ReportSource
	admins  AdminReader
}

// NewDiagnosticsHandler creates a new diagnostics handler. admins may be nil.
func NewDiagnosticsHandler(checker VariableChecker, tier TierReader, reports ReportSource, admins AdminReader) *DiagnosticsHandler {
	return &DiagnosticsHandler{checker: checker, tier: tier, reports: reports, admins: admins}
}

// AdminStatus describes the stored default admin without its secret
type AdminStatus struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// StepStatus is one provisioning step as rendered by the status endpoint
type StepStatus struct {
	Step    string `json:"step"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StatusResponse is the body of GET /platform/status
type StatusResponse struct {
	Hosting      string       `json:"hosting"`
	Tier         string       `json:"tier"`
	Live         bool         `json:"live"`
	Provisioned  bool         `json:"provisioned"`
	Merged       []string     `json:"merged"`
	Steps        []StepStatus `json:"steps"`
	Duration     string       `json:"duration,omitempty"`
	DefaultAdmin *AdminStatus `json:"default_admin,omitempty"`
}

// VariableResponse is the body of GET /platform/variables/:name. Values are
// only included when the caller asks for them with ?reveal=true.
type VariableResponse struct {
	Name               string `json:"name"`
	Equal              bool   `json:"equal"`
	PresentEnvironment bool   `json:"present_environment"`
	PresentPlatform    bool   `json:"present_platform"`
	EnvironmentValue   string `json:"environment_value,omitempty"`
	PlatformValue      string `json:"platform_value,omitempty"`
}

// GetStatus godoc
// @Summary Platform provisioning status
// @Description Hosting context, deployment tier and the outcome of each provisioning step
// @Tags Platform
// @Security BearerAuth
// @Produce json
// @Success 200 {object} StatusResponse
// @Failure 401 {object} map[string]interface{} "Unauthorized"
// @Router /platform/status [get]
func (h *DiagnosticsHandler) GetStatus(c *fiber.Ctx) error {
	resp := StatusResponse{
		Hosting: h.checker.Hosting().String(),
		Tier:    string(h.tier.Tier()),
		Live:    h.tier.IsLive(),
		Merged:  []string{},
		Steps:   []StepStatus{},
	}

	if report := h.reports.Report(); report != nil {
		resp.Provisioned = true
		resp.Duration = report.Duration.String()
		if report.Merged != nil {
			resp.Merged = report.Merged
		}
		for _, s := range report.Steps {
			step := StepStatus{Step: s.Step, Outcome: s.Outcome.String(), Detail: s.Detail}
			if s.Err != nil {
				step.Error = s.Err.Error()
			}
			resp.Steps = append(resp.Steps, step)
		}
	}

	if h.admins != nil {
		admin, err := h.admins.DefaultAdmin(c.UserContext())
		switch {
		case err == nil:
			resp.DefaultAdmin = &AdminStatus{Username: admin.Username, CreatedAt: admin.CreatedAt}
		case !errors.Is(err, services.ErrNoDefaultAdmin):
			utils.LogRequestError(c, "default admin lookup failed", err)
		}
	}

	return c.JSON(resp)
}

// CheckVariable godoc
// @Summary Compare a variable between the environment and the platform
// @Tags Platform
// @Security BearerAuth
// @Produce json
// @Param name path string true "Variable name"
// @Param reveal query bool false "Include both values in the response"
// @Success 200 {object} VariableResponse
// @Failure 400 {object} map[string]interface{} "Invalid variable name"
// @Failure 404 {object} map[string]interface{} "Not running on the hosting platform"
// @Router /platform/variables/{name} [get]
func (h *DiagnosticsHandler) CheckVariable(c *fiber.Ctx) error {
	name := c.Params("name")
	if !variableNamePattern.MatchString(name) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid variable name"})
	}

	check, ok := h.checker.TestVariable(name)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Hosting platform not detected"})
	}

	resp := VariableResponse{
		Name:               check.Name,
		Equal:              check.Equal,
		PresentEnvironment: check.Environment != "",
		PresentPlatform:    check.Platform != "",
	}
	if c.QueryBool("reveal") {
		subject, _ := middleware.SubjectFromContext(c)
		utils.LogInfo("platform variable revealed", "variable", name, "subject", subject)
		resp.EnvironmentValue = check.Environment
		resp.PlatformValue = check.Platform
	}
	return c.JSON(resp)
}
