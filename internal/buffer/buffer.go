// Package buffer implements the per-speaker message buffer: a bounded,
// first-in-first-out queue of recent utterances per speaker, with
// aggregation, expiry sweeping, and overflow eviction.
package buffer

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npcmediator/engine/pkg/npctypes"
)

// Config controls the buffer's size and timing limits. Zero values are
// replaced with the package defaults in New.
type Config struct {
	MaxMessagesPerAvatar int           // per-speaker queue cap
	MaxTotalBufferSize   int           // global soft cap across all speakers
	AggregationWindow    time.Duration // window for aggregatedContent
	ExpiryAge            time.Duration // age past which utterances are swept
}

const (
	defaultMaxMessagesPerAvatar = 10
	defaultMaxTotalBufferSize   = 50
	defaultAggregationWindow    = 5 * time.Second
	defaultExpiryAge            = 60 * time.Second
)

func (c Config) withDefaults() Config {
	if c.MaxMessagesPerAvatar <= 0 {
		c.MaxMessagesPerAvatar = defaultMaxMessagesPerAvatar
	}
	if c.MaxTotalBufferSize <= 0 {
		c.MaxTotalBufferSize = defaultMaxTotalBufferSize
	}
	if c.AggregationWindow <= 0 {
		c.AggregationWindow = defaultAggregationWindow
	}
	if c.ExpiryAge <= 0 {
		c.ExpiryAge = defaultExpiryAge
	}
	return c
}

// speakerEntry holds one speaker's queue plus metadata. It is retained
// even when Messages is empty, so LastRespondedAt survives across a
// clearSpeaker call.
type speakerEntry struct {
	speakerName     string
	messages        []npctypes.Utterance
	firstSeen       time.Time
	lastSeen        time.Time
	totalIngested   int
	lastRespondedAt time.Time
}

// Buffer is the per-speaker message buffer set. All methods are safe for
// concurrent use; callers running under the engine's own coarse mutex
// still go through these locks, which only adds redundant (harmless)
// serialization.
type Buffer struct {
	mu sync.Mutex
	cfg Config

	entries []string // speaker ids in first-contact order, for tie-break determinism
	byID    map[string]*speakerEntry

	totalCount int
}

// New creates an empty Buffer with the given configuration.
func New(cfg Config) *Buffer {
	return &Buffer{
		cfg:  cfg.withDefaults(),
		byID: make(map[string]*speakerEntry),
	}
}

// Ingest appends a new utterance to speakerID's queue, creating the entry
// on first contact. It enforces the per-speaker cap, then sweeps expired
// utterances globally, then enforces the global cap.
func (b *Buffer) Ingest(speakerID, speakerName, text string, directMention bool, now time.Time) npctypes.Utterance {
	b.mu.Lock()
	defer b.mu.Unlock()

	u := npctypes.Utterance{
		ID:            uuid.NewString(),
		SpeakerID:     speakerID,
		SpeakerName:   speakerName,
		Text:          text,
		ReceivedAt:    now,
		DirectMention: directMention,
	}

	e, ok := b.byID[speakerID]
	if !ok {
		e = &speakerEntry{speakerName: speakerName, firstSeen: now}
		b.byID[speakerID] = e
		b.entries = append(b.entries, speakerID)
	}
	e.speakerName = speakerName
	e.messages = append(e.messages, u)
	e.lastSeen = now
	e.totalIngested++
	b.totalCount++

	if len(e.messages) > b.cfg.MaxMessagesPerAvatar {
		log.Printf("buffer: per-speaker cap exceeded for speaker=%s, evicting oldest", speakerID)
		e.messages = e.messages[1:]
		b.totalCount--
	}

	b.sweepExpiredLocked(now)
	b.enforceGlobalCapLocked()

	return u
}

// AggregatedContent returns the space-joined text of all utterances from
// speakerID whose age is within the aggregation window; if none qualify
// but the buffer is non-empty, the sole most recent utterance is returned.
func (b *Buffer) AggregatedContent(speakerID string, now time.Time) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[speakerID]
	if !ok || len(e.messages) == 0 {
		return ""
	}

	var parts []string
	for _, u := range e.messages {
		if now.Sub(u.ReceivedAt) <= b.cfg.AggregationWindow {
			parts = append(parts, u.Text)
		}
	}
	if len(parts) == 0 {
		return e.messages[len(e.messages)-1].Text
	}

	out := parts[0]
	for _, p := range parts[1:] {
		out += " " + p
	}
	return out
}

// ClearSpeaker drops all utterances for speakerID but retains the
// metadata record, so LastRespondedAt survives.
func (b *Buffer) ClearSpeaker(speakerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[speakerID]
	if !ok {
		return
	}
	b.totalCount -= len(e.messages)
	e.messages = nil
}

// ClearAll drops every speaker's queue and metadata.
func (b *Buffer) ClearAll() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.byID = make(map[string]*speakerEntry)
	b.entries = nil
	b.totalCount = 0
}

// MarkResponded records that the engine just replied to speakerID.
func (b *Buffer) MarkResponded(speakerID string, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.byID[speakerID]
	if !ok {
		e = &speakerEntry{firstSeen: now}
		b.byID[speakerID] = e
		b.entries = append(b.entries, speakerID)
	}
	e.lastRespondedAt = now
}

// SweepExpired removes utterances older than the configured expiry age,
// and drops any speaker entry whose sequence and last-responded-at are
// both empty.
func (b *Buffer) SweepExpired(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sweepExpiredLocked(now)
}

func (b *Buffer) sweepExpiredLocked(now time.Time) {
	var survivors []string
	for _, id := range b.entries {
		e := b.byID[id]
		kept := e.messages[:0:0]
		for _, u := range e.messages {
			if now.Sub(u.ReceivedAt) <= b.cfg.ExpiryAge {
				kept = append(kept, u)
			} else {
				b.totalCount--
			}
		}
		e.messages = kept

		if len(e.messages) == 0 && e.lastRespondedAt.IsZero() {
			delete(b.byID, id)
			continue
		}
		survivors = append(survivors, id)
	}
	b.entries = survivors
}

// enforceGlobalCapLocked evicts the globally-oldest utterance, across all
// speakers, until the total is within the configured cap.
func (b *Buffer) enforceGlobalCapLocked() {
	for b.totalCount > b.cfg.MaxTotalBufferSize {
		oldestSpeaker := ""
		var oldestAt time.Time
		for id, e := range b.byID {
			if len(e.messages) == 0 {
				continue
			}
			if oldestSpeaker == "" || e.messages[0].ReceivedAt.Before(oldestAt) {
				oldestSpeaker = id
				oldestAt = e.messages[0].ReceivedAt
			}
		}
		if oldestSpeaker == "" {
			return
		}
		e := b.byID[oldestSpeaker]
		e.messages = e.messages[1:]
		b.totalCount--
		log.Printf("buffer: global cap exceeded, evicted oldest utterance speaker=%s", oldestSpeaker)
	}
}

// Snapshot returns a read-only view of every speaker buffer, ordered by
// first-contact (insertion) order so that tie-breaking in the Decision
// Layer is deterministic.
func (b *Buffer) Snapshot() []npctypes.SpeakerBufferView {
	b.mu.Lock()
	defer b.mu.Unlock()

	views := make([]npctypes.SpeakerBufferView, 0, len(b.entries))
	for _, id := range b.entries {
		e := b.byID[id]
		msgs := make([]npctypes.Utterance, len(e.messages))
		copy(msgs, e.messages)
		views = append(views, npctypes.SpeakerBufferView{
			SpeakerID:       id,
			SpeakerName:     e.speakerName,
			Messages:        msgs,
			FirstSeen:       e.firstSeen,
			LastSeen:        e.lastSeen,
			TotalIngested:   e.totalIngested,
			LastRespondedAt: e.lastRespondedAt,
		})
	}
	return views
}

// TotalCount returns the current total utterance count across all
// speakers, exposed for invariant assertions in tests.
func (b *Buffer) TotalCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.totalCount
}
