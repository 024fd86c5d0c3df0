package statemachine_test

import (
	"context"
	"testing"
	"time"

	"github.com/npcmediator/engine/internal/buffer"
	"github.com/npcmediator/engine/internal/decision"
	"github.com/npcmediator/engine/internal/statemachine"
	"github.com/npcmediator/engine/pkg/npctypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// zeroRand always returns 0, so the chance gate always passes and the randomness
// term adds nothing to a hand-computed score.
func zeroRand() float64 { return 0 }

func newEngine(cfg statemachine.Config) (*statemachine.Engine, *buffer.Buffer, *decision.Layer) {
	buf := buffer.New(buffer.Config{})
	dec := decision.New(decision.Config{
		ResponseThreshold: 50,
		ResponseChance:    1.0,
		TriggerWords:      []string{"hey maid"},
	}, zeroRand)
	eng := statemachine.New(cfg, buf, dec)
	return eng, buf, dec
}

// Scenario 1 (viewed from the state machine): a direct mention produces a
// respond verdict that, once a waiter is registered, wakes it and moves
// the engine to THINKING with that speaker as the active target.
func TestMentionWakesRegisteredWaiter(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)

	resultCh := make(chan statemachine.WaitResult, 1)
	go func() {
		resultCh <- eng.WaitForDecision(context.Background(), "carol", 5*time.Second)
	}()

	// give the waiter goroutine time to register before ticking.
	time.Sleep(20 * time.Millisecond)
	eng.Tick(now.Add(time.Millisecond))

	res := <-resultCh
	require.True(t, res.Decided)
	assert.Equal(t, "carol", res.Decision.TargetID)
	assert.Equal(t, npctypes.StateThinking, eng.State())
	assert.Equal(t, "carol", eng.ActiveTarget())
}

// Scenario 4: a respond verdict produced with no waiter present is parked
// in the pending slot, and the engine does not enter THINKING yet. The
// speaker's own next WaitForDecision call consumes it immediately.
func TestPendingDecisionConsumedWithoutWaiting(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)

	require.Equal(t, npctypes.StateListening, eng.State(), "no waiter present, should not yet be THINKING")

	res := eng.WaitForDecision(context.Background(), "carol", 5*time.Second)
	require.True(t, res.Decided)
	assert.Equal(t, "carol", res.Decision.TargetID)
	assert.Equal(t, npctypes.StateThinking, eng.State())
}

// A decision targeting one speaker must never wake a waiter registered
// for a different speaker.
func TestWaiterOnlyWokenByMatchingTarget(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)

	otherDone := make(chan statemachine.WaitResult, 1)
	go func() {
		otherDone <- eng.WaitForDecision(context.Background(), "bob", 200*time.Millisecond)
	}()

	time.Sleep(20 * time.Millisecond)
	eng.Tick(now.Add(time.Millisecond))

	res := <-otherDone
	assert.False(t, res.Decided, "bob's wait must time out, not be woken by carol's decision")
}

// Active target is non-empty if and only if the engine is THINKING.
func TestActiveTargetOnlyDuringThinking(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	assert.Empty(t, eng.ActiveTarget())

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)
	assert.Equal(t, "carol", eng.ActiveTarget())

	eng.OnLLMResponseReady(now.Add(time.Second))
	assert.Empty(t, eng.ActiveTarget())
	assert.Equal(t, npctypes.StateSpeaking, eng.State())
}

// Scenario 5 (state-machine half): an LLM error during THINKING clears
// the active target's buffer, clears the active target, and returns the
// engine to IDLE.
func TestOnLLMErrorClearsActiveTargetAndBuffer(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)

	eng.OnLLMError(now.Add(time.Second))

	assert.Equal(t, npctypes.StateIdle, eng.State())
	assert.Empty(t, eng.ActiveTarget())
	assert.Equal(t, 0, buf.TotalCount())
}

func TestOnLLMErrorOutsideThinkingIsNoop(t *testing.T) {
	eng, _, _ := newEngine(statemachine.Config{})
	eng.OnLLMError(time.Now())
	assert.Equal(t, npctypes.StateIdle, eng.State())
}

func TestThinkingTimeoutRecoversToIdle(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{ThinkingMs: 10 * time.Second})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)

	eng.Tick(now.Add(11 * time.Second))

	assert.Equal(t, npctypes.StateIdle, eng.State())
	assert.Empty(t, eng.ActiveTarget())
}

func TestListeningTimeoutReturnsToIdle(t *testing.T) {
	eng, buf, dec := newEngine(statemachine.Config{ListeningMs: 5 * time.Second})
	_ = dec
	now := time.Now()

	buf.Ingest("dave", "Dave", "hi", false, now)
	eng.Tick(now) // IDLE -> LISTENING

	eng.Tick(now.Add(6 * time.Second))
	assert.Equal(t, npctypes.StateIdle, eng.State())
}

func TestSpeakingCooldownReturnsToListeningWhenBufferNonEmpty(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{CooldownMs: 2 * time.Second})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)
	eng.OnLLMResponseReady(now.Add(time.Second))
	require.Equal(t, npctypes.StateSpeaking, eng.State())

	buf.Ingest("dave", "Dave", "hello", false, now.Add(2*time.Second))
	eng.Tick(now.Add(3*time.Second + 100*time.Millisecond))

	assert.Equal(t, npctypes.StateListening, eng.State())
}

func TestSpeakingCooldownReturnsToIdleWhenBufferEmpty(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{CooldownMs: 2 * time.Second})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)
	buf.ClearSpeaker("carol")
	eng.OnLLMResponseReady(now.Add(time.Second))

	eng.Tick(now.Add(3*time.Second + 100*time.Millisecond))

	assert.Equal(t, npctypes.StateIdle, eng.State())
}

// Pending-consume idempotence: at most one WaitForDecision call for a
// speaker can consume a given pending decision.
func TestPendingDecisionConsumedAtMostOnce(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)

	first := eng.WaitForDecision(context.Background(), "carol", 10*time.Millisecond)
	require.True(t, first.Decided)

	second := eng.WaitForDecision(context.Background(), "carol", 10*time.Millisecond)
	assert.False(t, second.Decided, "a second wait must not observe the already-consumed pending decision")
}

// Consuming a different speaker's pending decision while the engine is
// already THINKING on someone else must not clobber the active target:
// there can only ever be one active target at a time.
func TestPendingDecisionConsumedWhileThinkingDoesNotClobberActiveTarget(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	require.Equal(t, npctypes.StateListening, eng.State(), "carol's verdict parks without a waiter")

	waiterDone := make(chan statemachine.WaitResult, 1)
	go func() {
		waiterDone <- eng.WaitForDecision(context.Background(), "bob", time.Second)
	}()
	time.Sleep(20 * time.Millisecond)

	later := now.Add(time.Millisecond)
	buf.Ingest("bob", "Bob", "hey maid! hey maid!", true, later)
	buf.Ingest("bob", "Bob", "are you there", false, later)
	eng.Tick(later)

	res := <-waiterDone
	require.True(t, res.Decided)
	require.Equal(t, "bob", res.Decision.TargetID)
	require.Equal(t, npctypes.StateThinking, eng.State())
	require.Equal(t, "bob", eng.ActiveTarget())

	carolResult := eng.WaitForDecision(context.Background(), "carol", 10*time.Millisecond)
	require.True(t, carolResult.Decided, "carol's earlier parked verdict is still delivered")
	assert.Equal(t, "carol", carolResult.Decision.TargetID)

	assert.Equal(t, npctypes.StateThinking, eng.State(), "engine must remain THINKING on bob")
	assert.Equal(t, "bob", eng.ActiveTarget(), "consuming carol's pending decision must not steal the active target")
}

func TestResetClearsEverythingAndForcesIdle(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{})
	now := time.Now()

	buf.Ingest("carol", "Carol", "hey maid!", true, now)
	eng.Tick(now)
	res := eng.WaitForDecision(context.Background(), "carol", time.Second)
	require.True(t, res.Decided)
	require.Equal(t, npctypes.StateThinking, eng.State())

	eng.Reset(now.Add(time.Second))

	assert.Equal(t, npctypes.StateIdle, eng.State())
	assert.Empty(t, eng.ActiveTarget())

	// no stale pending decision survives reset.
	res2 := eng.WaitForDecision(context.Background(), "carol", 10*time.Millisecond)
	assert.False(t, res2.Decided)
}

func TestTransitionLogIsBounded(t *testing.T) {
	eng, buf, _ := newEngine(statemachine.Config{ListeningMs: time.Millisecond})
	now := time.Now()

	for i := 0; i < 150; i++ {
		buf.Ingest("dave", "Dave", "hi", false, now)
		eng.Tick(now)
		now = now.Add(5 * time.Millisecond)
		eng.Tick(now)
		buf.ClearAll()
	}

	assert.LessOrEqual(t, len(eng.Transitions()), 100)
}

func TestWaitForDecisionRespectsCallerTimeout(t *testing.T) {
	eng, _, _ := newEngine(statemachine.Config{})
	start := time.Now()
	res := eng.WaitForDecision(context.Background(), "nobody", 30*time.Millisecond)
	assert.False(t, res.Decided)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestWaitForDecisionRespectsContextCancellation(t *testing.T) {
	eng, _, _ := newEngine(statemachine.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	res := eng.WaitForDecision(ctx, "nobody", 5*time.Second)
	assert.False(t, res.Decided)
}
