package credential

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/medbill/billing/internal/platform/apperr"
	"github.com/medbill/billing/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/credentials")
	g.POST("", h.GetOrCreate)
	g.GET("", h.GetByPatient)
	g.GET("/:id", h.Get)
	g.POST("/:id/deactivate", h.Deactivate)
}

type issueRequest struct {
	PatientID uuid.UUID `json:"patient_id"`
}

func (h *Handler) GetOrCreate(c echo.Context) error {
	var req issueRequest
	if err := c.Bind(&req); err != nil {
		return apperr.Validation("", "invalid request body")
	}
	cred, err := h.svc.GetOrCreate(c.Request().Context(), req.PatientID, callerID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("id", "invalid id")
	}
	cred, err := h.svc.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) GetByPatient(c echo.Context) error {
	pid, err := uuid.Parse(c.QueryParam("patient_id"))
	if err != nil {
		return apperr.Validation("patient_id", "a valid patient_id query parameter is required")
	}
	cred, err := h.svc.GetByPatient(c.Request().Context(), pid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cred)
}

func (h *Handler) Deactivate(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apperr.Validation("id", "invalid id")
	}
	if err := h.svc.Deactivate(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func callerID(c echo.Context) string {
	if p, ok := auth.PrincipalFromContext(c.Request().Context()); ok {
		return p.ID
	}
	return ""
}
