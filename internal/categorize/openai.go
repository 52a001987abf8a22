package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
)

const (
	defaultModel     = openai.GPT3Dot5Turbo
	defaultMaxTokens = 20
	temperature      = 0.3

	// promptBodyLimit caps the body excerpt sent to the model, in runes.
	promptBodyLimit = 500
)

const systemPrompt = `You are an AI assistant that categorizes emails into one of these categories:
- interested: The sender shows interest in the product/service or wants to continue the conversation
- meeting_booked: The sender is scheduling or confirming a meeting
- not_interested: The sender is declining, not interested, or asking to unsubscribe
- spam: Promotional content, suspicious links, or irrelevant messages
- out_of_office: Automated out-of-office or vacation replies

Respond with ONLY the category name in lowercase.`

// OpenAI categorizes messages with a chat completion model.
type OpenAI struct {
	client    *openai.Client
	model     string
	maxTokens int
	logger    *zap.Logger
}

var _ Categorizer = (*OpenAI)(nil)

// NewOpenAI creates a categorizer for the public OpenAI API.
func NewOpenAI(apiKey, modelName string, maxTokens int, logger *zap.Logger) *OpenAI {
	return NewOpenAIWithConfig(openai.DefaultConfig(apiKey), modelName, maxTokens, logger)
}

// NewOpenAIWithConfig creates a categorizer with a custom client
// configuration, e.g. a different base URL.
func NewOpenAIWithConfig(
	cfg openai.ClientConfig,
	modelName string,
	maxTokens int,
	logger *zap.Logger,
) *OpenAI {
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(cfg),
		model:     modelName,
		maxTokens: maxTokens,
		logger:    logger,
	}
}

// Categorize asks the model for a label. On failure the message is
// uncategorized and the error is returned for logging.
func (o *OpenAI) Categorize(ctx context.Context, msg model.Message) (model.Category, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(msg)},
		},
		MaxTokens:   o.maxTokens,
		Temperature: temperature,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return model.CategoryUncategorized, fmt.Errorf("categorizing message %s: %w", msg.ID, err)
	}
	if len(resp.Choices) == 0 {
		return model.CategoryUncategorized, fmt.Errorf("categorizing message %s: empty response", msg.ID)
	}

	reply := resp.Choices[0].Message.Content
	category := ParseLabel(reply)
	o.logger.Debug("message categorized",
		zap.String("message", msg.ID),
		zap.String("reply", reply),
		zap.String("category", string(category)),
	)
	return category, nil
}

func buildPrompt(msg model.Message) string {
	var sb strings.Builder
	sb.WriteString("Email Details:\n")
	fmt.Fprintf(&sb, "From: %s\n", msg.From)
	fmt.Fprintf(&sb, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&sb, "Body: %s\n\n", truncate(msg.Body, promptBodyLimit))
	sb.WriteString("Categorize this email.")
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
