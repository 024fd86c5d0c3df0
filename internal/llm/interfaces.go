package llm

import (
	"context"

	"github.com/npcmediator/engine/pkg/npctypes"
)

// ChatGenerator is the interface for non-streaming multi-turn completion.
// Implementations receive the full ordered turn sequence the Conversation
// Manager assembled — system turn(s) first — and return the assistant's
// reply text.
type ChatGenerator interface {
	Chat(ctx context.Context, messages []npctypes.Turn) (string, error)
	GetModel() string
}

// StreamingChatGenerator is implemented by providers that can stream a
// reply incrementally. The Dispatch Adapter prefers streaming and falls
// back to ChatGenerator.Chat on a stream error.
type StreamingChatGenerator interface {
	ChatGenerator
	ChatStream(ctx context.Context, messages []npctypes.Turn) (<-chan string, <-chan error)
}

// HealthChecker is implemented by providers that can be pinged
// independently of a chat call, for a startup readiness check.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}
