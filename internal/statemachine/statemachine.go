// Package statemachine drives the NPC engagement engine's
// IDLE -> LISTENING -> THINKING -> SPEAKING lifecycle, owns the tick
// loop, and matches waiting HTTP callers with decisions through a
// per-speaker rendezvous.
package statemachine

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npcmediator/engine/pkg/npctypes"
)

// Buffer is the subset of internal/buffer.Buffer the state machine needs.
type Buffer interface {
	Snapshot() []npctypes.SpeakerBufferView
	ClearSpeaker(speakerID string)
	SweepExpired(now time.Time)
}

// Decider is the subset of internal/decision.Layer the state machine
// needs.
type Decider interface {
	Decide(snapshot []npctypes.SpeakerBufferView, now time.Time) npctypes.Decision
	ClearHistory()
}

const maxTransitionLog = 100

// Config controls tick cadence and the wall-clock timeouts for each
// state.
type Config struct {
	TickInterval time.Duration
	ListeningMs  time.Duration
	ThinkingMs   time.Duration
	CooldownMs   time.Duration
}

const (
	defaultTickInterval = time.Second
	defaultListeningMs  = 15 * time.Second
	defaultThinkingMs   = 30 * time.Second
	defaultCooldownMs   = 5 * time.Second
)

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = defaultTickInterval
	}
	if c.ListeningMs <= 0 {
		c.ListeningMs = defaultListeningMs
	}
	if c.ThinkingMs <= 0 {
		c.ThinkingMs = defaultThinkingMs
	}
	if c.CooldownMs <= 0 {
		c.CooldownMs = defaultCooldownMs
	}
	return c
}

// waiter is a one-shot rendezvous registration for one waitForDecision
// call.
type waiter struct {
	speakerID string
	ch        chan npctypes.Decision
}

// Engine is the NPC engagement engine's state machine. A single coarse
// mutex guards every piece of shared state the distilled contract names
// as needing linearizability: buffer reads for decision-making, waiter
// registration, decision broadcast, and state transitions. The ticker
// goroutine never suspends while holding the lock; LLM invocation
// happens entirely outside of it, in the Dispatch Adapter.
type Engine struct {
	mu sync.Mutex

	cfg     Config
	buf     Buffer
	decider Decider

	state          npctypes.State
	stateEnteredAt time.Time
	activeTarget   string // non-empty only while THINKING
	lastReplyAt    time.Time
	transitions    []npctypes.Transition

	pending map[string]npctypes.Decision // speakerID -> undelivered respond verdict
	waiters map[string][]*waiter         // speakerID -> registered waiters, FIFO

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates an Engine in the IDLE state.
func New(cfg Config, buf Buffer, decider Decider) *Engine {
	return &Engine{
		cfg:     cfg.withDefaults(),
		buf:     buf,
		decider: decider,
		state:   npctypes.StateIdle,
		pending: make(map[string]npctypes.Decision),
		waiters: make(map[string][]*waiter),
	}
}

// Run starts the tick loop in a background goroutine. It returns
// immediately; call Stop (or cancel ctx) to end the loop.
func (e *Engine) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	ticker := time.NewTicker(e.cfg.TickInterval)
	go func() {
		defer ticker.Stop()
		defer close(e.done)
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.tick(now)
			}
		}
	}()
}

// Stop ends the tick loop and waits for it to exit.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	if e.done != nil {
		<-e.done
	}
}

// tick performs one bounded unit of ticker work under the engine mutex.
func (e *Engine) tick(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case npctypes.StateIdle:
		if e.anyBufferNonEmptyLocked() {
			e.transitionLocked(npctypes.StateListening, now, "", "buffer non-empty")
			e.evaluateLocked(now)
		}
	case npctypes.StateListening:
		if now.Sub(e.stateEnteredAt) > e.cfg.ListeningMs {
			e.buf.SweepExpired(now)
			e.transitionLocked(npctypes.StateIdle, now, "", "listening timeout")
			return
		}
		e.evaluateLocked(now)
	case npctypes.StateThinking:
		if now.Sub(e.stateEnteredAt) > e.cfg.ThinkingMs {
			log.Printf("statemachine: thinking timeout for target=%s", e.activeTarget)
			e.recoverFromThinkingLocked(now)
		}
	case npctypes.StateSpeaking:
		if now.Sub(e.stateEnteredAt) > e.cfg.CooldownMs {
			if e.anyBufferNonEmptyLocked() {
				e.transitionLocked(npctypes.StateListening, now, "", "cooldown elapsed, buffer non-empty")
			} else {
				e.transitionLocked(npctypes.StateIdle, now, "", "cooldown elapsed, buffer empty")
			}
		}
	}
}

// evaluateLocked asks the Decision Layer to evaluate every buffer. On a
// respond verdict it either wakes a matching waiter (and moves to
// THINKING) or, if no waiter is registered, parks the verdict as the
// speaker's pending decision.
func (e *Engine) evaluateLocked(now time.Time) {
	snapshot := e.buf.Snapshot()
	d := e.decider.Decide(snapshot, now)
	if !d.Respond {
		return
	}

	if e.wakeWaiterLocked(d) {
		e.activeTarget = d.TargetID
		e.transitionLocked(npctypes.StateThinking, now, d.TargetID, "respond verdict, waiter present")
		return
	}

	e.pending[d.TargetID] = d
}

func (e *Engine) anyBufferNonEmptyLocked() bool {
	for _, v := range e.buf.Snapshot() {
		if len(v.Messages) > 0 {
			return true
		}
	}
	return false
}

// recoverFromThinkingLocked is the shared cleanup for both the LLM-error
// and the thinking-timeout paths: THINKING -> IDLE, clear the active
// target's buffer, clear the active target field.
func (e *Engine) recoverFromThinkingLocked(now time.Time) {
	target := e.activeTarget
	if target != "" {
		e.buf.ClearSpeaker(target)
	}
	e.activeTarget = ""
	e.transitionLocked(npctypes.StateIdle, now, target, "recovered from thinking")
}

func (e *Engine) transitionLocked(to npctypes.State, now time.Time, speakerID, reason string) {
	t := npctypes.Transition{
		ID:        uuid.NewString(),
		From:      e.state,
		To:        to,
		At:        now,
		Reason:    reason,
		SpeakerID: speakerID,
	}
	e.transitions = append(e.transitions, t)
	if len(e.transitions) > maxTransitionLog {
		e.transitions = e.transitions[len(e.transitions)-maxTransitionLog:]
	}
	e.state = to
	e.stateEnteredAt = now
}

// WaitResult is the outcome of a rendezvous wait.
type WaitResult struct {
	Decided  bool
	Decision npctypes.Decision
}

// WaitForDecision blocks until either a decision targeting speakerID is
// broadcast, or timeout elapses. If a pending decision for speakerID
// already exists, it is consumed atomically and returned immediately.
func (e *Engine) WaitForDecision(ctx context.Context, speakerID string, timeout time.Duration) WaitResult {
	e.mu.Lock()
	if d, ok := e.pending[speakerID]; ok {
		delete(e.pending, speakerID)
		if e.state != npctypes.StateThinking {
			e.activeTarget = speakerID
			e.transitionLocked(npctypes.StateThinking, time.Now(), speakerID, "respond verdict consumed from pending slot")
		}
		e.mu.Unlock()
		return WaitResult{Decided: true, Decision: d}
	}

	w := &waiter{speakerID: speakerID, ch: make(chan npctypes.Decision, 1)}
	e.waiters[speakerID] = append(e.waiters[speakerID], w)
	e.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d, ok := <-w.ch:
		if !ok {
			return WaitResult{Decided: false}
		}
		return WaitResult{Decided: true, Decision: d}
	case <-timer.C:
		e.deregisterWaiter(w)
		return WaitResult{Decided: false}
	case <-ctx.Done():
		e.deregisterWaiter(w)
		return WaitResult{Decided: false}
	}
}

func (e *Engine) deregisterWaiter(target *waiter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.waiters[target.speakerID]
	for i, w := range list {
		if w == target {
			e.waiters[target.speakerID] = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(e.waiters[target.speakerID]) == 0 {
		delete(e.waiters, target.speakerID)
	}
}

// wakeWaiterLocked delivers d to the oldest registered waiter for
// d.TargetID, if any, and reports whether a waiter was woken.
func (e *Engine) wakeWaiterLocked(d npctypes.Decision) bool {
	list := e.waiters[d.TargetID]
	if len(list) == 0 {
		return false
	}
	w := list[0]
	e.waiters[d.TargetID] = list[1:]
	if len(e.waiters[d.TargetID]) == 0 {
		delete(e.waiters, d.TargetID)
	}
	w.ch <- d
	return true
}

// OnLLMResponseReady transitions THINKING -> SPEAKING once the Dispatch
// Adapter has a reply in hand.
func (e *Engine) OnLLMResponseReady(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != npctypes.StateThinking {
		return fmt.Errorf("statemachine: OnLLMResponseReady called outside THINKING (state=%s)", e.state)
	}
	e.lastReplyAt = now
	target := e.activeTarget
	e.activeTarget = ""
	e.transitionLocked(npctypes.StateSpeaking, now, target, "llm reply ready")
	return nil
}

// OnLLMError transitions THINKING -> IDLE, clears the active target's
// buffer, and clears the active target. Outside THINKING it is a no-op
// with a warning, per the distilled error semantics.
func (e *Engine) OnLLMError(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != npctypes.StateThinking {
		log.Printf("statemachine: OnLLMError called outside THINKING (state=%s), ignoring", e.state)
		return
	}
	e.recoverFromThinkingLocked(now)
}

// Reset clears all engine-owned bookkeeping and forces IDLE regardless
// of current state: pending decisions, waiters (woken with a negative
// result so they don't hang), the active target, and the Decision
// Layer's history.
func (e *Engine) Reset(now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pending = make(map[string]npctypes.Decision)
	for _, list := range e.waiters {
		for _, w := range list {
			close(w.ch)
		}
	}
	e.waiters = make(map[string][]*waiter)
	e.activeTarget = ""
	e.decider.ClearHistory()
	e.transitionLocked(npctypes.StateIdle, now, "", "reset")
}

// State returns the current state.
func (e *Engine) State() npctypes.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ActiveTarget returns the current active target speaker id, or "" if
// none (non-THINKING states always report "").
func (e *Engine) ActiveTarget() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.activeTarget
}

// Transitions returns a copy of the bounded transition log, most recent
// last, for diagnostics.
func (e *Engine) Transitions() []npctypes.Transition {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]npctypes.Transition(nil), e.transitions...)
}

// Tick exposes one tick step directly for deterministic tests, bypassing
// the ticker goroutine.
func (e *Engine) Tick(now time.Time) {
	e.tick(now)
}
