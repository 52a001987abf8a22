package suggest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nhle/onebox/internal/model"
	"github.com/nhle/onebox/tests/testutil"
)

// fakeOpenAI serves embeddings and chat completions. Texts mentioning a
// meeting embed to one axis, product texts to another and the rest to a
// third, so similarity is predictable.
type fakeOpenAI struct {
	embeddings atomic.Int32
	chat       openai.ChatCompletionRequest
	failEmbed  atomic.Bool
}

func embedFor(text string) []float32 {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "meeting"):
		return []float32{0, 1, 0}
	case strings.Contains(lower, "product"):
		return []float32{1, 0, 0}
	default:
		return []float32{0, 0, 1}
	}
}

func (f *fakeOpenAI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/v1/embeddings":
		if f.failEmbed.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
			return
		}
		f.embeddings.Add(1)

		var req struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Input) != 1 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data": []map[string]any{{
				"object":    "embedding",
				"index":     0,
				"embedding": embedFor(req.Input[0]),
			}},
		})

	case "/v1/chat/completions":
		_ = json.NewDecoder(r.Body).Decode(&f.chat)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  f.chat.Model,
			"choices": []map[string]any{{
				"index":         0,
				"finish_reason": "stop",
				"message": map[string]any{
					"role":    "assistant",
					"content": "  Happy to chat, pick a slot at https://cal.com/example\n",
				},
			}},
		})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestSuggester(t *testing.T, fake *fakeOpenAI, cfg model.SuggestConfig) (*Suggester, KnowledgeStore) {
	t.Helper()

	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	clientCfg := openai.DefaultConfig("test-key")
	clientCfg.BaseURL = srv.URL + "/v1"

	s := testutil.NewTestStore(t)
	return NewWithConfig(clientCfg, s, cfg, zap.NewNop()), s
}

func seededConfig() model.SuggestConfig {
	return model.SuggestConfig{
		ProductName:    "Onebox",
		OutreachAgenda: "I am applying for a job position.",
		BookingLink:    "https://cal.com/example",
	}
}

func TestSuggestReply_SeedsAndUsesClosestKnowledge(t *testing.T) {
	fake := &fakeOpenAI{}
	s, ks := newTestSuggester(t, fake, seededConfig())
	ctx := context.Background()

	msg := model.Message{
		ID:      "m1",
		From:    "Lead <lead@example.com>",
		Subject: "Quick call?",
		Body:    "Could we set up a meeting next week?",
	}

	reply, err := s.SuggestReply(ctx, msg)
	require.NoError(t, err)

	assert.Equal(t, "Happy to chat, pick a slot at https://cal.com/example", reply.Reply)
	require.Len(t, reply.Context, topK)
	assert.Contains(t, reply.Context[0], "https://cal.com/example")
	assert.InDelta(t, 1.0/3, reply.Confidence, 0.0001)

	items, err := ks.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 4)
	assert.Equal(t, int32(5), fake.embeddings.Load())

	assert.Equal(t, openai.GPT4, fake.chat.Model)
	assert.Equal(t, defaultMaxTokens, fake.chat.MaxTokens)
	assert.InDelta(t, 0.7, fake.chat.Temperature, 0.001)
	require.Len(t, fake.chat.Messages, 2)
	assert.Contains(t, fake.chat.Messages[0].Content, "- If the lead is interested")
	assert.Contains(t, fake.chat.Messages[0].Content, "under 150 words")
	assert.Contains(t, fake.chat.Messages[1].Content, "Subject: Quick call?")
	assert.Contains(t, fake.chat.Messages[1].Content, "From: Lead <lead@example.com>")

	_, err = s.SuggestReply(ctx, msg)
	require.NoError(t, err)
	assert.Equal(t, int32(6), fake.embeddings.Load(), "seeding runs once")
}

func TestSuggestReply_DoesNotSeedExistingKnowledge(t *testing.T) {
	fake := &fakeOpenAI{}
	s, ks := newTestSuggester(t, fake, seededConfig())
	ctx := context.Background()

	_, err := s.AddKnowledge(ctx, "Our product ships monthly", map[string]any{"type": "release"})
	require.NoError(t, err)

	reply, err := s.SuggestReply(ctx, model.Message{ID: "m1", Subject: "Product roadmap"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Our product ships monthly"}, reply.Context)
	assert.InDelta(t, 1.0, reply.Confidence, 0.0001)

	items, err := ks.ListKnowledge(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, map[string]any{"type": "release"}, items[0].Metadata)
}

func TestSuggestReply_EmbeddingFailureRetriesSeeding(t *testing.T) {
	fake := &fakeOpenAI{}
	fake.failEmbed.Store(true)
	s, ks := newTestSuggester(t, fake, seededConfig())
	ctx := context.Background()

	_, err := s.SuggestReply(ctx, model.Message{ID: "m1"})
	assert.ErrorContains(t, err, "seeding knowledge")

	fake.failEmbed.Store(false)
	_, err = s.SuggestReply(ctx, model.Message{ID: "m1", Subject: "hello"})
	require.NoError(t, err)

	items, err := ks.ListKnowledge(ctx)
	require.NoError(t, err)
	assert.Len(t, items, 4)
}

func TestAddKnowledge_RequiresText(t *testing.T) {
	fake := &fakeOpenAI{}
	s, _ := newTestSuggester(t, fake, model.SuggestConfig{})

	_, err := s.AddKnowledge(context.Background(), "  \n", nil)
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Zero(t, fake.embeddings.Load())
}

func TestRank_SkipsMismatchedEmbeddings(t *testing.T) {
	s := &Suggester{logger: zap.NewNop()}

	matches := s.rank([]float32{1, 0}, []model.Knowledge{
		{ID: "a", Text: "a", Embedding: []float32{0, 1}},
		{ID: "b", Text: "b", Embedding: []float32{1, 0, 0}},
		{ID: "c", Text: "c", Embedding: []float32{1, 0}},
		{ID: "d", Text: "d", Embedding: []float32{0.6, 0.8}},
		{ID: "e", Text: "e", Embedding: []float32{-1, 0}},
	})

	require.Len(t, matches, topK)
	assert.Equal(t, "c", matches[0].text)
	assert.Equal(t, "d", matches[1].text)
	assert.Equal(t, "a", matches[2].text)
}

func TestConfidence(t *testing.T) {
	tests := []struct {
		name    string
		matches []match
		want    float64
	}{
		{"none", nil, 0},
		{"mean", []match{{score: 0.5}, {score: 0.7}}, 0.6},
		{"negative clamps to zero", []match{{score: -0.4}}, 0},
		{"rounding clamps to one", []match{{score: 1.0000001}}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, confidence(tt.matches), 0.0001)
		})
	}
}
