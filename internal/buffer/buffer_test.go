package buffer_test

import (
	"testing"
	"time"

	"github.com/npcmediator/engine/internal/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBuffer() *buffer.Buffer {
	return buffer.New(buffer.Config{
		MaxMessagesPerAvatar: 3,
		MaxTotalBufferSize:   5,
		AggregationWindow:    5 * time.Second,
		ExpiryAge:            60 * time.Second,
	})
}

func TestIngestCreatesEntryOnFirstContact(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	u := b.Ingest("alice", "Alice", "hi", false, now)

	require.NotEmpty(t, u.ID)
	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "alice", snap[0].SpeakerID)
	assert.Equal(t, 1, snap[0].TotalIngested)
}

func TestPerSpeakerCapEvictsOldest(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "one", false, now)
	b.Ingest("alice", "Alice", "two", false, now)
	b.Ingest("alice", "Alice", "three", false, now)
	b.Ingest("alice", "Alice", "four", false, now)

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	require.Len(t, snap[0].Messages, 3)
	assert.Equal(t, "two", snap[0].Messages[0].Text)
	assert.Equal(t, "four", snap[0].Messages[2].Text)
}

func TestGlobalCapEvictsGloballyOldest(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	// 2 speakers, 3 messages each would be 6 total but the global cap is 5.
	b.Ingest("alice", "Alice", "a1", false, now)
	b.Ingest("bob", "Bob", "b1", false, now.Add(1*time.Millisecond))
	b.Ingest("alice", "Alice", "a2", false, now.Add(2*time.Millisecond))
	b.Ingest("bob", "Bob", "b2", false, now.Add(3*time.Millisecond))
	b.Ingest("alice", "Alice", "a3", false, now.Add(4*time.Millisecond))

	assert.LessOrEqual(t, b.TotalCount(), 5)

	b.Ingest("bob", "Bob", "b3", false, now.Add(5*time.Millisecond))
	assert.LessOrEqual(t, b.TotalCount(), 5)
}

func TestAggregatedContentWithinWindow(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "hello", false, now)
	b.Ingest("alice", "Alice", "there", false, now.Add(1*time.Second))

	content := b.AggregatedContent("alice", now.Add(2*time.Second))
	assert.Equal(t, "hello there", content)
}

func TestAggregatedContentFallsBackToLoneOldUtterance(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "old message", false, now)

	content := b.AggregatedContent("alice", now.Add(time.Hour))
	assert.Equal(t, "old message", content)
}

func TestAggregatedContentEmptyForUnknownSpeaker(t *testing.T) {
	b := newTestBuffer()
	assert.Equal(t, "", b.AggregatedContent("nobody", time.Now()))
}

func TestClearSpeakerRetainsLastRespondedAt(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "hi", false, now)
	b.MarkResponded("alice", now)
	b.ClearSpeaker("alice")

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Empty(t, snap[0].Messages)
	assert.Equal(t, now, snap[0].LastRespondedAt)
}

func TestClearAllDropsEverything(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "hi", false, now)
	b.MarkResponded("alice", now)
	b.ClearAll()

	assert.Empty(t, b.Snapshot())
	assert.Equal(t, 0, b.TotalCount())
}

func TestSweepExpiredRemovesOldUtterancesAndEmptyEntries(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "old", false, now)
	b.SweepExpired(now.Add(time.Hour))

	assert.Empty(t, b.Snapshot())
}

func TestSweepExpiredRetainsEntryWithLastResponded(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("alice", "Alice", "old", false, now)
	b.MarkResponded("alice", now)
	b.SweepExpired(now.Add(time.Hour))

	snap := b.Snapshot()
	require.Len(t, snap, 1)
	assert.Empty(t, snap[0].Messages)
}

func TestSnapshotOrderIsInsertionOrder(t *testing.T) {
	b := newTestBuffer()
	now := time.Now()

	b.Ingest("carol", "Carol", "hi", false, now)
	b.Ingest("alice", "Alice", "hi", false, now)
	b.Ingest("bob", "Bob", "hi", false, now)

	snap := b.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, []string{"carol", "alice", "bob"},
		[]string{snap[0].SpeakerID, snap[1].SpeakerID, snap[2].SpeakerID})
}
