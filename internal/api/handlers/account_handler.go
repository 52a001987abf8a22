package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/nhle/onebox/internal/api/response"
	"github.com/nhle/onebox/internal/sync"
)

// AccountController is the part of the sync engine exposed over HTTP.
type AccountController interface {
	Statuses() []sync.Status
	Status(accountID string) (sync.Status, bool)
	Restart(accountID string) error
}

// AccountHandler handles account status requests.
type AccountHandler struct {
	accounts AccountController
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(accounts AccountController) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c echo.Context) error {
	return response.Success(c, h.accounts.Statuses())
}

// Restart handles POST /api/accounts/:id/restart
func (h *AccountHandler) Restart(c echo.Context) error {
	id := c.Param("id")

	err := h.accounts.Restart(id)
	switch {
	case errors.Is(err, sync.ErrUnknownAccount):
		return response.NotFound(c, "account not found")
	case errors.Is(err, sync.ErrStopped):
		return response.ServiceUnavailable(c, "sync engine is shutting down")
	case err != nil:
		return response.InternalError(c, "failed to restart account")
	}

	st, _ := h.accounts.Status(id)
	return response.SuccessWithMessage(c, st, "account restarted")
}
