// Package conversation implements the Conversation Manager: the ordered
// dialogue history and the budgeted prompt assembly that combines it
// with injected long-term memories.
package conversation

import (
	"log"
	"sync"
	"time"

	"github.com/npcmediator/engine/internal/memstore"
	"github.com/npcmediator/engine/pkg/npctypes"
)

// MemoryRelevance is the subset of the Memory Store the Conversation
// Manager needs: given recent text, return the entries worth injecting
// within a token budget. Kept as an interface so conversation can be
// tested without a real memstore.Store.
type MemoryRelevance interface {
	Relevant(recentTexts []string, tokenBudget int) []npctypes.MemoryEntry
}

// Logger is the fire-and-forget log collaborator: it persists a sealed
// conversation without ever blocking the caller. The default production
// implementation is internal/convlog.Logger.
type Logger interface {
	Save(turns []npctypes.Turn, reason string)
}

// noopLogger is used when no Logger is supplied.
type noopLogger struct{}

func (noopLogger) Save([]npctypes.Turn, string) {}

// Config controls history trimming, token budgeting, and the
// inactivity-driven auto-reset.
type Config struct {
	MaxHistoryMessages     int
	MaxContextTokens       int // 0 selects the default; truncation is switched off per call via HistoryWithMemories' budgetingEnabled
	SystemPromptMaxPercent int // warn if the system prompt exceeds this % of MaxContextTokens
	InactivityTimeout      time.Duration
}

const (
	defaultMaxHistoryMessages  = 50
	defaultMaxContextTokens    = 8000
	defaultSystemPromptPercent = 80
	defaultInactivityTimeout   = time.Hour
	memoriesLookbackTurns      = 5
)

func (c Config) withDefaults() Config {
	if c.MaxHistoryMessages <= 0 {
		c.MaxHistoryMessages = defaultMaxHistoryMessages
	}
	if c.MaxContextTokens == 0 {
		c.MaxContextTokens = defaultMaxContextTokens
	}
	if c.SystemPromptMaxPercent <= 0 {
		c.SystemPromptMaxPercent = defaultSystemPromptPercent
	}
	if c.InactivityTimeout <= 0 {
		c.InactivityTimeout = defaultInactivityTimeout
	}
	return c
}

// Manager is the Conversation Manager. The first history turn is always
// the persona system prompt and is never removed by trimming.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	history []npctypes.Turn
	mem     MemoryRelevance
	logger  Logger
	timer   *time.Timer
}

// New creates a Manager seeded with the persona system prompt.
func New(systemPrompt string, cfg Config, mem MemoryRelevance, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	cfg = cfg.withDefaults()

	systemTokens := memstore.EstimateTokens(systemPrompt)
	if pct := float64(systemTokens) / float64(cfg.MaxContextTokens) * 100; pct > float64(cfg.SystemPromptMaxPercent) {
		log.Printf("conversation: persona system prompt uses %.0f%% of the context budget (limit %d%%)", pct, cfg.SystemPromptMaxPercent)
	}

	return &Manager{
		cfg:     cfg,
		history: []npctypes.Turn{{Role: npctypes.RoleSystem, Content: systemPrompt}},
		mem:     mem,
		logger:  logger,
	}
}

// AppendUser appends a user turn and rearms the inactivity timer. Callers
// (the Dispatch Adapter) are responsible for prefixing text with the
// speaker's display name before calling.
func (m *Manager) AppendUser(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, npctypes.Turn{Role: npctypes.RoleUser, Content: text})
	m.rearmTimerLocked()
}

// AppendAssistant appends an assistant turn and trims the history if it
// now exceeds the configured bound.
func (m *Manager) AppendAssistant(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, npctypes.Turn{Role: npctypes.RoleAssistant, Content: text})
	m.trimLocked()
}

// RemoveLast pops the most recent non-system turn. Used to roll back a
// user turn on LLM failure.
func (m *Manager) RemoveLast() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) <= 1 {
		return
	}
	m.history = m.history[:len(m.history)-1]
}

// History returns the full ordered history, system turn first.
func (m *Manager) History() []npctypes.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]npctypes.Turn(nil), m.history...)
}

// HistoryWithBudget returns [system, ...newest turns that fit within
// maxContextTokens - systemTokens], walking from newest to oldest.
func (m *Manager) HistoryWithBudget() []npctypes.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyWithBudgetLocked(nil)
}

// HistoryWithMemories fetches relevant memories for the last few
// user/assistant turns, renders each as a "[Memory] "-prefixed system
// turn, and returns [system, ...memory turns, ...newest turns that fit
// in the remaining budget]. If budgetingEnabled is false, the newest-N
// truncation is skipped and the full history follows the memory turns,
// but memory injection still happens.
func (m *Manager) HistoryWithMemories(memoryBudget int, budgetingEnabled bool) []npctypes.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()

	recent := m.recentTextsLocked(memoriesLookbackTurns)
	var memTurns []npctypes.Turn
	if m.mem != nil {
		for _, entry := range m.mem.Relevant(recent, memoryBudget) {
			memTurns = append(memTurns, npctypes.Turn{Role: npctypes.RoleSystem, Content: "[Memory] " + entry.Content})
		}
	}

	if !budgetingEnabled {
		out := append([]npctypes.Turn{m.history[0]}, memTurns...)
		out = append(out, m.history[1:]...)
		return out
	}

	return m.historyWithBudgetLocked(memTurns)
}

// historyWithBudgetLocked builds [system, ...extra, ...newest turns that
// fit the remaining token budget]. extra (e.g. memory turns) is spent
// first, reducing what's left for conversation turns.
func (m *Manager) historyWithBudgetLocked(extra []npctypes.Turn) []npctypes.Turn {
	systemTurn := m.history[0]
	budget := m.cfg.MaxContextTokens - turnTokens(systemTurn)
	for _, t := range extra {
		budget -= turnTokens(t)
	}
	if budget < 0 {
		budget = 0
	}

	rest := m.history[1:]
	var kept []npctypes.Turn
	used := 0
	for i := len(rest) - 1; i >= 0; i-- {
		cost := turnTokens(rest[i])
		if used+cost > budget {
			break
		}
		used += cost
		kept = append([]npctypes.Turn{rest[i]}, kept...)
	}

	out := append([]npctypes.Turn{systemTurn}, extra...)
	out = append(out, kept...)
	return out
}

func turnTokens(t npctypes.Turn) int {
	return memstore.EstimateTokens(t.Content) + memstore.PerTurnOverhead
}

// recentTextsLocked returns the content of the last n user/assistant
// turns (oldest of that window first).
func (m *Manager) recentTextsLocked(n int) []string {
	rest := m.history[1:]
	start := len(rest) - n
	if start < 0 {
		start = 0
	}
	texts := make([]string, 0, len(rest)-start)
	for _, t := range rest[start:] {
		texts = append(texts, t.Content)
	}
	return texts
}

// trimLocked keeps the system turn plus the most recent
// MaxHistoryMessages turns once the history exceeds that bound.
func (m *Manager) trimLocked() {
	if len(m.history) <= m.cfg.MaxHistoryMessages+1 {
		return
	}
	keepFrom := len(m.history) - m.cfg.MaxHistoryMessages
	m.history = append([]npctypes.Turn{m.history[0]}, m.history[keepFrom:]...)
}

// SaveAndReset hands the full history to the Logger collaborator (never
// blocking on I/O) if there is anything beyond the system turn, then
// resets history to just the system turn and clears the inactivity
// timer.
func (m *Manager) SaveAndReset(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveAndResetLocked(reason)
}

func (m *Manager) saveAndResetLocked(reason string) {
	if len(m.history) > 1 {
		snapshot := append([]npctypes.Turn(nil), m.history...)
		m.logger.Save(snapshot, reason)
	}
	m.history = m.history[:1]
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) rearmTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.cfg.InactivityTimeout, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.saveAndResetLocked("inactivity")
	})
}
