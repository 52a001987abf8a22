// Package categorize assigns a model.Category to synchronized messages.
package categorize

import (
	"context"
	"strings"

	"github.com/nhle/onebox/internal/model"
)

// Categorizer classifies a message. Implementations return
// model.CategoryUncategorized alongside any error.
type Categorizer interface {
	Categorize(ctx context.Context, msg model.Message) (model.Category, error)
}

// Static assigns the same category to every message. It is used when no
// model is configured.
type Static struct {
	Category model.Category
}

// Categorize returns s.Category, or uncategorized when it is unset.
func (s Static) Categorize(context.Context, model.Message) (model.Category, error) {
	if s.Category == "" {
		return model.CategoryUncategorized, nil
	}
	return s.Category, nil
}

// ParseLabel maps a free-form model reply such as "Meeting booked." to a
// category. Unrecognized replies map to uncategorized.
func ParseLabel(reply string) model.Category {
	label := strings.ToLower(strings.TrimSpace(reply))
	label = strings.Trim(label, ".!\"'`*")
	label = strings.Join(strings.Fields(label), "_")
	label = strings.ReplaceAll(label, "-", "_")

	c, _ := model.ParseCategory(label)
	return c
}
