package handlers

import (
	"errors"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nhle/onebox/internal/api/response"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/store"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// EmailHandler handles stored message requests.
type EmailHandler struct {
	store store.Store
}

// NewEmailHandler creates an EmailHandler.
func NewEmailHandler(s store.Store) *EmailHandler {
	return &EmailHandler{store: s}
}

// List handles GET /api/emails
//
// Query parameters: account, folder, category, q, since, until (RFC 3339 or
// YYYY-MM-DD), limit, offset.
func (h *EmailHandler) List(c echo.Context) error {
	filter, err := parseFilter(c)
	if err != nil {
		return response.BadRequest(c, err.Error())
	}

	ctx := c.Request().Context()
	messages, err := h.store.SearchMessages(ctx, filter)
	if err != nil {
		return response.InternalError(c, "failed to list emails")
	}
	total, err := h.store.CountMessages(ctx, filter)
	if err != nil {
		return response.InternalError(c, "failed to count emails")
	}

	return response.Paginated(c, messages, total, filter.Limit, filter.Offset)
}

// Get handles GET /api/emails/:id
func (h *EmailHandler) Get(c echo.Context) error {
	msg, err := h.store.GetMessageByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to get email")
	}
	return response.Success(c, msg)
}

// UpdateCategoryRequest is the body of PUT /api/emails/:id/category.
type UpdateCategoryRequest struct {
	Category string `json:"category"`
}

// UpdateCategory handles PUT /api/emails/:id/category
func (h *EmailHandler) UpdateCategory(c echo.Context) error {
	var req UpdateCategoryRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	category, ok := model.ParseCategory(req.Category)
	if !ok {
		return response.BadRequest(c, "unknown category: "+req.Category)
	}

	id := c.Param("id")
	if err := h.store.UpdateCategory(c.Request().Context(), id, category); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to update category")
	}

	return response.SuccessWithMessage(c, map[string]string{
		"id":       id,
		"category": string(category),
	}, "category updated")
}

// CategoryStats handles GET /api/emails/stats/categories
func (h *EmailHandler) CategoryStats(c echo.Context) error {
	counts, err := h.store.CountByCategory(c.Request().Context())
	if err != nil {
		return response.InternalError(c, "failed to count categories")
	}
	return response.Success(c, counts)
}

func parseFilter(c echo.Context) (store.MessageFilter, error) {
	filter := store.MessageFilter{Limit: defaultLimit}

	if v := c.QueryParam("account"); v != "" {
		filter.AccountID = &v
	}
	if v := c.QueryParam("folder"); v != "" {
		filter.Folder = &v
	}
	if v := c.QueryParam("q"); v != "" {
		filter.Query = &v
	}
	if v := c.QueryParam("category"); v != "" {
		category, ok := model.ParseCategory(v)
		if !ok {
			return filter, errors.New("unknown category: " + v)
		}
		filter.Category = &category
	}

	for name, dst := range map[string]**time.Time{
		"since": &filter.Since,
		"until": &filter.Until,
	} {
		v := c.QueryParam(name)
		if v == "" {
			continue
		}
		t, err := parseTime(v)
		if err != nil {
			return filter, errors.New("invalid " + name + ": " + v)
		}
		*dst = &t
	}

	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			filter.Limit = min(n, maxLimit)
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	return filter, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, s)
}
