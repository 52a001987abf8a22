// Package suggest drafts replies to stored messages, grounded on a small
// knowledge table searched by embedding similarity.
package suggest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
)

const (
	defaultModel          = openai.GPT4
	defaultEmbeddingModel = openai.AdaEmbeddingV2
	defaultMaxTokens      = 300
	temperature           = 0.7

	// topK is the number of knowledge entries used per reply.
	topK = 3

	// queryLimit caps the text sent for embedding, in runes.
	queryLimit = 4000
)

// ErrEmptyText is returned when knowledge without text is added.
var ErrEmptyText = errors.New("text is required")

// KnowledgeStore persists knowledge entries with their embeddings.
type KnowledgeStore interface {
	AddKnowledge(ctx context.Context, k model.Knowledge) error
	ListKnowledge(ctx context.Context) ([]model.Knowledge, error)
}

// Suggester drafts replies with an OpenAI chat model.
type Suggester struct {
	client *openai.Client
	store  KnowledgeStore
	cfg    model.SuggestConfig
	logger *zap.Logger

	seedMu sync.Mutex
	seeded bool
}

// New creates a Suggester for the public OpenAI API.
func New(apiKey string, store KnowledgeStore, cfg model.SuggestConfig, logger *zap.Logger) *Suggester {
	return NewWithConfig(openai.DefaultConfig(apiKey), store, cfg, logger)
}

// NewWithConfig creates a Suggester with a custom client configuration.
func NewWithConfig(
	clientCfg openai.ClientConfig,
	store KnowledgeStore,
	cfg model.SuggestConfig,
	logger *zap.Logger,
) *Suggester {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(defaultEmbeddingModel)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	return &Suggester{
		client: openai.NewClientWithConfig(clientCfg),
		store:  store,
		cfg:    cfg,
		logger: logger,
	}
}

// AddKnowledge embeds text and stores it for later replies.
func (s *Suggester) AddKnowledge(
	ctx context.Context,
	text string,
	metadata map[string]any,
) (*model.Knowledge, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	embedding, err := s.embed(ctx, text)
	if err != nil {
		return nil, err
	}

	k := model.Knowledge{
		ID:        uuid.New().String(),
		Text:      text,
		Metadata:  metadata,
		Embedding: embedding,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AddKnowledge(ctx, k); err != nil {
		return nil, err
	}

	s.logger.Info("knowledge added", zap.String("id", k.ID), zap.Int("chars", len(text)))
	return &k, nil
}

// SuggestReply drafts a reply to msg from the most similar knowledge.
func (s *Suggester) SuggestReply(ctx context.Context, msg model.Message) (*model.SuggestedReply, error) {
	if err := s.ensureSeeded(ctx); err != nil {
		return nil, err
	}

	query, err := s.embed(ctx, truncate(msg.Subject+"\n\n"+msg.Body, queryLimit))
	if err != nil {
		return nil, fmt.Errorf("embedding message %s: %w", msg.ID, err)
	}

	items, err := s.store.ListKnowledge(ctx)
	if err != nil {
		return nil, err
	}
	matches := s.rank(query, items)

	snippets := make([]string, len(matches))
	for i, m := range matches {
		snippets[i] = m.text
	}

	req := openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: buildSystemPrompt(snippets)},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(msg)},
		},
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: temperature,
	}

	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("drafting reply to message %s: %w", msg.ID, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("drafting reply to message %s: empty response", msg.ID)
	}

	reply := &model.SuggestedReply{
		Reply:      strings.TrimSpace(resp.Choices[0].Message.Content),
		Confidence: confidence(matches),
		Context:    snippets,
	}
	s.logger.Debug("reply suggested",
		zap.String("message", msg.ID),
		zap.Int("context", len(snippets)),
		zap.Float64("confidence", reply.Confidence),
	)
	return reply, nil
}

// ensureSeeded fills an empty knowledge table with the configured
// defaults. It retries on the next call if seeding fails.
func (s *Suggester) ensureSeeded(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()

	if s.seeded {
		return nil
	}

	existing, err := s.store.ListKnowledge(ctx)
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		for _, item := range s.defaultKnowledge() {
			if _, err := s.AddKnowledge(ctx, item.text, item.metadata); err != nil {
				return fmt.Errorf("seeding knowledge: %w", err)
			}
		}
	}

	s.seeded = true
	return nil
}

type seed struct {
	text     string
	metadata map[string]any
}

func (s *Suggester) defaultKnowledge() []seed {
	var seeds []seed
	if s.cfg.OutreachAgenda != "" {
		seeds = append(seeds, seed{
			text:     "Outreach agenda: " + s.cfg.OutreachAgenda,
			metadata: map[string]any{"type": "agenda"},
		})
	}
	if s.cfg.ProductName != "" {
		seeds = append(seeds, seed{
			text:     "Product: " + s.cfg.ProductName + ". This is our main product offering.",
			metadata: map[string]any{"type": "product"},
		})
	}
	if s.cfg.BookingLink != "" {
		seeds = append(seeds, seed{
			text: "If the lead is interested or asks for a meeting, share the booking link: " +
				s.cfg.BookingLink,
			metadata: map[string]any{"type": "meeting"},
		})
	}
	seeds = append(seeds, seed{
		text: "Keep replies professional, friendly and concise. " +
			"Answer the sender's questions directly and suggest a clear next step.",
		metadata: map[string]any{"type": "guidelines"},
	})
	return seeds
}

func (s *Suggester) embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(s.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("creating embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("creating embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

type match struct {
	text  string
	score float64
}

// rank returns up to topK items ordered by similarity to query. OpenAI
// embeddings are unit length, so the dot product is the cosine similarity.
func (s *Suggester) rank(query []float32, items []model.Knowledge) []match {
	q := &openai.Embedding{Embedding: query}

	matches := make([]match, 0, len(items))
	for _, k := range items {
		score, err := q.DotProduct(&openai.Embedding{Embedding: k.Embedding})
		if err != nil {
			s.logger.Warn("skipping knowledge with mismatched embedding",
				zap.String("id", k.ID), zap.Error(err))
			continue
		}
		matches = append(matches, match{text: k.Text, score: float64(score)})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches
}

// confidence is the mean score of matches clamped to [0, 1].
func confidence(matches []match) float64 {
	if len(matches) == 0 {
		return 0
	}
	var sum float64
	for _, m := range matches {
		sum += m.score
	}
	return min(max(sum/float64(len(matches)), 0), 1)
}

func buildSystemPrompt(snippets []string) string {
	var sb strings.Builder
	sb.WriteString("You are an AI assistant helping to write professional email replies.\n\n")
	sb.WriteString("Context about our business:\n")
	for _, c := range snippets {
		fmt.Fprintf(&sb, "- %s\n", c)
	}
	sb.WriteString("\nGuidelines:\n")
	sb.WriteString("- Write a professional and friendly reply\n")
	sb.WriteString("- Use the context above when it is relevant\n")
	sb.WriteString("- Include the booking link if a meeting is appropriate\n")
	sb.WriteString("- Keep the reply under 150 words\n")
	sb.WriteString("- Do not include a subject line")
	return sb.String()
}

func buildUserPrompt(msg model.Message) string {
	var sb strings.Builder
	sb.WriteString("Write a reply to this email:\n\n")
	fmt.Fprintf(&sb, "From: %s\n", msg.From)
	fmt.Fprintf(&sb, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&sb, "Body: %s", truncate(msg.Body, queryLimit))
	return sb.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
