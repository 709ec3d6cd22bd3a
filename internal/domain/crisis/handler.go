package crisis

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ehr/crisis/internal/platform/auth"
	"github.com/ehr/crisis/internal/platform/middleware"
	"github.com/ehr/crisis/pkg/pagination"
)

type Handler struct {
	engine *Engine
}

func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/crisis")

	// Analysis - anyone who reads patient-authored text, plus service accounts
	g.POST("/analyze", h.Analyze, auth.RequireRole(auth.RolePhysician, auth.RoleNurse, auth.RoleCounselor, auth.RoleService))

	// Registry review - clinical staff
	review := g.Group("", auth.RequireRole(auth.RolePhysician, auth.RoleCounselor))
	review.GET("/registry", h.GetRegistry)
	review.GET("/keywords", h.ListKeywords)
}

// AnalyzeRequest is the body of POST /crisis/analyze.
type AnalyzeRequest struct {
	Text           *string         `json:"text"`
	PatientContext *PatientContext `json:"patient_context,omitempty"`
}

func (h *Handler) Analyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		if errors.Is(err, middleware.ErrBodyTooLarge) {
			return middleware.ErrBodyTooLarge
		}
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Text == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "text is required")
	}

	ctx := c.Request().Context()
	res, err := h.engine.AnalyzeText(ctx, *req.Text, auth.UserIDFromContext(ctx), req.PatientContext)
	if err != nil {
		var tooLarge *InputTooLargeError
		if errors.As(err, &tooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, tooLarge.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "analysis failed")
	}
	return c.JSON(http.StatusOK, res)
}

// RegistryInfo summarises the loaded keyword registry.
type RegistryInfo struct {
	Version         string           `json:"version"`
	Reviewed        string           `json:"reviewed,omitempty"`
	Source          string           `json:"source"`
	EntryCount      int              `json:"entry_count"`
	ByCategory      map[Category]int `json:"by_category"`
	MaxInputLength  int              `json:"max_input_length"`
	AcceptThreshold float64          `json:"acceptance_threshold"`
	ConfidenceRules []ConfidenceRule `json:"confidence_rules"`
}

func (h *Handler) GetRegistry(c echo.Context) error {
	reg := h.engine.Registry()
	return c.JSON(http.StatusOK, RegistryInfo{
		Version:         reg.Version(),
		Reviewed:        reg.Reviewed(),
		Source:          reg.Source(),
		EntryCount:      reg.Len(),
		ByCategory:      reg.CountByCategory(),
		MaxInputLength:  h.engine.MaxInputLength(),
		AcceptThreshold: AcceptanceThreshold,
		ConfidenceRules: ConfidenceRules(),
	})
}

func (h *Handler) ListKeywords(c echo.Context) error {
	params, err := pagination.Parse(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	entries := h.engine.Registry().Entries()

	if raw := strings.TrimSpace(c.QueryParam("category")); raw != "" {
		var want Category
		if err := want.UnmarshalText([]byte(raw)); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		filtered := entries[:0]
		for _, e := range entries {
			if e.Category == want {
				filtered = append(filtered, e)
			}
		}
		entries = filtered
	}

	return c.JSON(http.StatusOK, pagination.Slice(entries, params))
}
