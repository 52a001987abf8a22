package handlers

import (
	"context"
	"errors"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nhle/onebox/internal/api/response"
	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/internal/store"
)

// ReplySuggester drafts replies and manages the knowledge they draw on.
type ReplySuggester interface {
	SuggestReply(ctx context.Context, msg model.Message) (*model.SuggestedReply, error)
	AddKnowledge(ctx context.Context, text string, metadata map[string]any) (*model.Knowledge, error)
}

// SuggestHandler handles reply suggestion requests. A nil suggester
// answers every request with 503.
type SuggestHandler struct {
	store     store.Store
	suggester ReplySuggester
}

// NewSuggestHandler creates a SuggestHandler.
func NewSuggestHandler(s store.Store, suggester ReplySuggester) *SuggestHandler {
	return &SuggestHandler{store: s, suggester: suggester}
}

// SuggestReply handles POST /api/emails/:id/suggest-reply
func (h *SuggestHandler) SuggestReply(c echo.Context) error {
	if h.suggester == nil {
		return response.ServiceUnavailable(c, "reply suggestions are not configured")
	}

	ctx := c.Request().Context()
	msg, err := h.store.GetMessageByID(ctx, c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return response.NotFound(c, "email not found")
		}
		return response.InternalError(c, "failed to get email")
	}

	reply, err := h.suggester.SuggestReply(ctx, *msg)
	if err != nil {
		return response.InternalError(c, "failed to suggest reply")
	}
	return response.Success(c, reply)
}

// AddKnowledgeRequest is the body of POST /api/knowledge.
type AddKnowledgeRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata"`
}

// AddKnowledge handles POST /api/knowledge
func (h *SuggestHandler) AddKnowledge(c echo.Context) error {
	if h.suggester == nil {
		return response.ServiceUnavailable(c, "reply suggestions are not configured")
	}

	var req AddKnowledgeRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.Text) == "" {
		return response.BadRequest(c, "text is required")
	}

	k, err := h.suggester.AddKnowledge(c.Request().Context(), req.Text, req.Metadata)
	if err != nil {
		return response.InternalError(c, "failed to add knowledge")
	}
	return response.SuccessWithMessage(c, k, "knowledge added")
}
