// Package dispatch implements the Dispatch Adapter: the engine-facing
// glue between an incoming chat message and the Message Buffer,
// Decision Layer, State Machine, Conversation Manager and LLM
// collaborators. It fixes the engine's external contract without
// itself being an HTTP handler.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/npcmediator/engine/internal/llm"
	"github.com/npcmediator/engine/internal/npcerrors"
	"github.com/npcmediator/engine/internal/statemachine"
	"github.com/npcmediator/engine/pkg/npctypes"
)

const (
	resetCommandEN = "reset"
	resetCommandZH = "清除"
)

// Buffer is the subset of internal/buffer.Buffer the adapter needs.
type Buffer interface {
	Ingest(speakerID, speakerName, text string, directMention bool, now time.Time) npctypes.Utterance
	AggregatedContent(speakerID string, now time.Time) string
	ClearSpeaker(speakerID string)
	ClearAll()
	MarkResponded(speakerID string, now time.Time)
}

// MentionDetector is the subset of internal/decision.Layer needed to
// compute the direct-mention flag before ingest.
type MentionDetector interface {
	DetectMention(text string) bool
}

// StateMachine is the subset of internal/statemachine.Engine the
// adapter needs.
type StateMachine interface {
	WaitForDecision(ctx context.Context, speakerID string, timeout time.Duration) statemachine.WaitResult
	OnLLMResponseReady(now time.Time) error
	OnLLMError(now time.Time)
	Reset(now time.Time)
}

// Conversation is the subset of internal/conversation.Manager the
// adapter needs.
type Conversation interface {
	AppendUser(text string)
	AppendAssistant(text string)
	RemoveLast()
	History() []npctypes.Turn
	HistoryWithBudget() []npctypes.Turn
	HistoryWithMemories(memoryBudget int, budgetingEnabled bool) []npctypes.Turn
	SaveAndReset(reason string)
}

// Config controls the adapter's rendezvous timeout and prompt-assembly
// strategy.
type Config struct {
	ListeningTimeout  time.Duration
	MemoryEnabled     bool
	MemoryTokenBudget int
	BudgetingEnabled  bool
}

// Outcome tags how Handle resolved an ingested message.
type Outcome int

const (
	// OutcomeReplied means the engine engaged; Response.Reply holds the
	// assistant's text.
	OutcomeReplied Outcome = iota
	// OutcomeDeclined means the engine did not engage (timeout below
	// threshold, chance rejection, or cooldown); not an error.
	OutcomeDeclined
	// OutcomeReset means the message was an in-band reset command.
	OutcomeReset
)

// Response is the result of one Handle call.
type Response struct {
	Outcome Outcome
	Reply   string
}

// Adapter is the Dispatch Adapter.
type Adapter struct {
	cfg Config

	buf     Buffer
	mention MentionDetector
	conv    Conversation
	sm      StateMachine
	gen     llm.ChatGenerator

	now func() time.Time
}

// New creates an Adapter wiring the given collaborators.
func New(cfg Config, buf Buffer, mention MentionDetector, conv Conversation, sm StateMachine, gen llm.ChatGenerator) *Adapter {
	return &Adapter{
		cfg:     cfg,
		buf:     buf,
		mention: mention,
		conv:    conv,
		sm:      sm,
		gen:     gen,
		now:     time.Now,
	}
}

// Handle processes one ingested message from speaker (display name),
// identified by speakerID (stable identity; callers default it to
// speaker when the caller supplied no avatar id).
func (a *Adapter) Handle(ctx context.Context, speaker, speakerID, message string) (Response, error) {
	if strings.TrimSpace(speaker) == "" || strings.TrimSpace(message) == "" {
		return Response{}, npcerrors.ErrInputInvalid
	}
	if speakerID == "" {
		speakerID = speaker
	}

	if message == resetCommandEN || message == resetCommandZH {
		a.Reset()
		return Response{Outcome: OutcomeReset}, nil
	}

	now := a.now()
	directMention := a.mention.DetectMention(message)
	a.buf.Ingest(speakerID, speaker, message, directMention, now)

	wait := a.sm.WaitForDecision(ctx, speakerID, a.cfg.ListeningTimeout)
	if !wait.Decided {
		return Response{Outcome: OutcomeDeclined}, nil
	}

	return a.respond(ctx, speaker, speakerID)
}

// Reset runs the three-step reset sequence: seal and clear the
// conversation, drop every buffer, and force the state machine back to
// IDLE. It backs both the in-band reset command and the dedicated
// memory-reset endpoint.
func (a *Adapter) Reset() {
	a.conv.SaveAndReset("reset_command")
	a.buf.ClearAll()
	a.sm.Reset(a.now())
}

// respond assembles the prompt, invokes the LLM, and applies the
// success or failure path.
func (a *Adapter) respond(ctx context.Context, speaker, speakerID string) (Response, error) {
	now := a.now()
	content := a.buf.AggregatedContent(speakerID, now)
	a.conv.AppendUser(fmt.Sprintf("[%s] %s", speaker, content))

	turns := spliceAddressHint(a.buildPrompt(), speaker)

	reply, err := a.invokeLLM(ctx, turns)
	if err != nil {
		a.conv.RemoveLast()
		a.sm.OnLLMError(now)
		return Response{}, fmt.Errorf("%w: %v", npcerrors.ErrLLMTransport, err)
	}

	a.conv.AppendAssistant(reply)
	if err := a.sm.OnLLMResponseReady(now); err != nil {
		log.Printf("dispatch: %v", err)
	}
	a.buf.MarkResponded(speakerID, now)
	a.buf.ClearSpeaker(speakerID)

	return Response{Outcome: OutcomeReplied, Reply: reply}, nil
}

// buildPrompt picks the prompt-assembly method the configuration calls
// for: memory injection when enabled, otherwise plain token-budgeted
// history, otherwise the unbudgeted full history.
func (a *Adapter) buildPrompt() []npctypes.Turn {
	switch {
	case a.cfg.MemoryEnabled:
		return a.conv.HistoryWithMemories(a.cfg.MemoryTokenBudget, a.cfg.BudgetingEnabled)
	case a.cfg.BudgetingEnabled:
		return a.conv.HistoryWithBudget()
	default:
		return a.conv.History()
	}
}

// spliceAddressHint inserts a transient, one-shot system turn
// immediately after the persona system turn, directing the model to
// address speaker by name. It is never stored in conversation history.
func spliceAddressHint(turns []npctypes.Turn, speaker string) []npctypes.Turn {
	hint := npctypes.Turn{
		Role:    npctypes.RoleSystem,
		Content: fmt.Sprintf("You are responding to %s. Address them directly by name.", speaker),
	}
	if len(turns) == 0 {
		return []npctypes.Turn{hint}
	}
	out := make([]npctypes.Turn, 0, len(turns)+1)
	out = append(out, turns[0], hint)
	out = append(out, turns[1:]...)
	return out
}

// invokeLLM prefers streaming and falls back to a single non-streaming
// call if the stream fails outright.
func (a *Adapter) invokeLLM(ctx context.Context, turns []npctypes.Turn) (string, error) {
	if streamer, ok := a.gen.(llm.StreamingChatGenerator); ok {
		reply, err := streamChat(ctx, streamer, turns)
		if err == nil {
			return reply, nil
		}
		log.Printf("dispatch: streaming chat failed, falling back to non-streaming: %v", err)
	}
	return a.gen.Chat(ctx, turns)
}

// streamChat drains both the chunk and error channels a
// StreamingChatGenerator returns, concatenating chunks into the full
// reply text.
func streamChat(ctx context.Context, streamer llm.StreamingChatGenerator, turns []npctypes.Turn) (string, error) {
	chunks, errs := streamer.ChatStream(ctx, turns)

	var b strings.Builder
	var streamErr error
	for chunks != nil || errs != nil {
		select {
		case c, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			b.WriteString(c)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				streamErr = err
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if streamErr != nil {
		return "", streamErr
	}
	return b.String(), nil
}
