package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	db       Pinger
	accounts AccountController
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(db Pinger, accounts AccountController) *HealthHandler {
	return &HealthHandler{db: db, accounts: accounts}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string         `json:"status"`
	Database string         `json:"database"`
	Accounts map[string]int `json:"accounts"`
}

// Health handles GET /health. It reports 503 when the store is
// unreachable; account failures are reported but do not fail the check.
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:   "healthy",
		Database: "healthy",
		Accounts: map[string]int{},
	}
	for _, st := range h.accounts.Statuses() {
		resp.Accounts[st.State.String()]++
	}

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "unhealthy"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}
