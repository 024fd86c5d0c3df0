// Package npctypes holds the plain data types shared across the NPC
// engagement engine. Types here carry no behavior; logic lives in the
// package that owns each type's lifecycle (internal/buffer,
// internal/memstore, internal/conversation, internal/statemachine).
package npctypes

import "time"

// Utterance is a single immutable message from one speaker at one moment.
type Utterance struct {
	ID            string    `json:"id"`
	SpeakerID     string    `json:"speakerId"`
	SpeakerName   string    `json:"speakerName"`
	Text          string    `json:"text"`
	ReceivedAt    time.Time `json:"receivedAt"`
	DirectMention bool      `json:"directMention"`
}

// SpeakerBufferView is a read-only snapshot of one speaker's buffer,
// returned by the Message Buffer's snapshot operation for the Decision
// Layer to score.
type SpeakerBufferView struct {
	SpeakerID       string
	SpeakerName     string
	Messages        []Utterance
	FirstSeen       time.Time
	LastSeen        time.Time
	TotalIngested   int
	LastRespondedAt time.Time // zero value means "never responded"
}

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry in the conversation history.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// MemoryEntry is a keyword-indexed long-term fact available for prompt
// injection. Keywords, Priority and Content are immutable after creation;
// LastAccessed and AccessCount are the only mutable fields.
type MemoryEntry struct {
	ID           string
	Keywords     []string
	Content      string
	Priority     int // 1-10, higher is stronger
	CreatedAt    time.Time
	LastAccessed time.Time // zero value means never accessed
	AccessCount  int
}

// State is one of the NPC engagement engine's lifecycle states.
type State string

const (
	StateIdle      State = "IDLE"
	StateListening State = "LISTENING"
	StateThinking  State = "THINKING"
	StateSpeaking  State = "SPEAKING"
)

// Transition is one entry in the state machine's bounded diagnostic log.
type Transition struct {
	ID       string
	From     State
	To       State
	At       time.Time
	Reason   string
	SpeakerID string // target speaker, if relevant to this transition
}

// DeclineReason tags why the Decision Layer chose not to respond.
type DeclineReason string

const (
	DeclineNone            DeclineReason = ""
	DeclineEmpty           DeclineReason = "empty"
	DeclineBelowThreshold  DeclineReason = "below_threshold"
	DeclineChanceRejected  DeclineReason = "chance_rejected"
	DeclineCooldown        DeclineReason = "cooldown"
)

// Decision is the verdict produced by one Decision Layer evaluation pass.
type Decision struct {
	Respond   bool
	TargetID  string
	Reason    DeclineReason
	BestScore float64
	At        time.Time
}
