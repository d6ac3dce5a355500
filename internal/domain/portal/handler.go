package portal

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medbill/billing/internal/platform/apperr"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes mounts the portal under /patient-portal, which the default
// policy leaves public.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/patient-portal")
	g.POST("/login", h.Login)
	g.POST("/invoices/:number", h.Invoice)
}

type loginRequest struct {
	AccessKey string `json:"access_key"`
	Password  string `json:"password"`
}

func (h *Handler) bind(c echo.Context) (loginRequest, error) {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return req, apperr.Validation("", "invalid request body")
	}
	return req, nil
}

func (h *Handler) Login(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	view, err := h.svc.Login(c.Request().Context(), req.AccessKey, req.Password)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Invoice(c echo.Context) error {
	req, err := h.bind(c)
	if err != nil {
		return err
	}
	inv, err := h.svc.Invoice(c.Request().Context(), req.AccessKey, req.Password, c.Param("number"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}
