// Package extract turns free-text chat messages into structured ride
// details. The primary implementation calls an external language-model
// oracle; it is treated as untrusted and unreliable, so a deterministic
// keyword/regex implementation backs it via the Chain decorator. Callers
// never see an extraction failure as a user-facing error.
package extract

import (
	"context"

	"github.com/example/chat2carpool/internal/models"
)

// Classification is the intent decision for one message.
type Classification struct {
	Intent     models.Intent `json:"intent"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// Classifier decides whether a message requests a ride, offers one, or
// neither.
type Classifier interface {
	Classify(ctx context.Context, message string) (Classification, error)
}

// Request carries everything an extractor may use: the current message, the
// established intent, recent transcript turns and the details accumulated so
// far. Extractors return only what the current message yields; merging is
// the caller's job.
type Request struct {
	Message  string
	Intent   models.Intent
	History  []models.ConversationMessage
	Existing models.RideDetails
}

// Extractor pulls a partial ride-detail record out of one message.
type Extractor interface {
	Extract(ctx context.Context, req Request) (models.RideDetails, error)
}
