// Package vision confirms with an AI vision model that the UI elements an
// event needs are visible on a page screenshot.
package vision

import (
	"context"

	"github.com/jakopako/tagprobe/internal/types"
)

// EventRequest names an event and the UI element it requires.
type EventRequest struct {
	Event      string `json:"event"`
	RequiredUI string `json:"required_ui"`
}

// RequestSpec is the compact verification request sent along with one
// screenshot.
type RequestSpec struct {
	PageID   string         `json:"page_id"`
	PageType types.PageType `json:"page_type"`
	Events   []EventRequest `json:"events"`
}

// EventAnswer is the model's judgement for one event.
type EventAnswer struct {
	Event      string
	Present    bool
	Confidence int
	Reason     string
}

// A Model looks at a screenshot and answers the request. Implementations
// may fail in any way, callers need a fallback.
type Model interface {
	Verify(ctx context.Context, image []byte, request RequestSpec) ([]EventAnswer, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, image []byte, request RequestSpec) ([]EventAnswer, error)

func (f ModelFunc) Verify(ctx context.Context, image []byte, request RequestSpec) ([]EventAnswer, error) {
	return f(ctx, image, request)
}
