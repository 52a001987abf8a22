package model

import "time"

// Knowledge is a snippet of product or process context used to ground
// suggested replies.
type Knowledge struct {
	ID        string         `json:"id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"-"`
	CreatedAt time.Time      `json:"created_at"`
}

// SuggestedReply is a drafted answer to a stored message.
type SuggestedReply struct {
	Reply string `json:"reply"`

	// Confidence is the mean similarity of the knowledge used, in [0, 1].
	Confidence float64 `json:"confidence"`

	// Context lists the knowledge texts the reply was grounded on.
	Context []string `json:"context"`
}
