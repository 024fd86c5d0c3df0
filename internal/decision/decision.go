// Package decision implements the NPC engagement engine's priority
// scoring and target selection: given a snapshot of all speaker buffers,
// it decides whether to respond and to whom.
package decision

import (
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/npcmediator/engine/pkg/npctypes"
)

// defaultRand is the production randomness source; tests inject a
// deterministic RandFunc instead.
func defaultRand() float64 {
	return rand.Float64()
}

// Config holds the scoring weights and gates. Zero values are replaced
// with the package defaults in New.
type Config struct {
	TriggerWords []string // lowercase substrings that flag a direct mention

	DirectMentionBonus      float64
	RecentInteractionBonus  float64
	MessageCountMultiplier  float64
	ConsecutiveBonus        float64
	MaxTimeDecay            float64
	TimeDecayRatePerMinute  float64
	RandomnessRange         float64

	ResponseThreshold float64
	ResponseChance    float64
	CooldownDuration  time.Duration
}

const (
	defaultDirectMentionBonus     = 100
	defaultRecentInteractionBonus = 30
	defaultMessageCountMult       = 5
	defaultConsecutiveBonus       = 10
	defaultMaxTimeDecay           = 20
	defaultTimeDecayRate          = 2
	defaultRandomnessRange        = 10
	defaultResponseThreshold      = 50
	defaultResponseChance         = 0.8
	defaultCooldown               = 30 * time.Second

	activeConversationWindow = 30 * time.Second
	recentInteractionCeiling = time.Hour
	activeConversationBonus  = 60

	maxConsecutiveForAccounting = 5
	maxConsecutiveForBonus      = 3
)

func (c Config) withDefaults() Config {
	if c.DirectMentionBonus == 0 {
		c.DirectMentionBonus = defaultDirectMentionBonus
	}
	if c.RecentInteractionBonus == 0 {
		c.RecentInteractionBonus = defaultRecentInteractionBonus
	}
	if c.MessageCountMultiplier == 0 {
		c.MessageCountMultiplier = defaultMessageCountMult
	}
	if c.ConsecutiveBonus == 0 {
		c.ConsecutiveBonus = defaultConsecutiveBonus
	}
	if c.MaxTimeDecay == 0 {
		c.MaxTimeDecay = defaultMaxTimeDecay
	}
	if c.TimeDecayRatePerMinute == 0 {
		c.TimeDecayRatePerMinute = defaultTimeDecayRate
	}
	if c.RandomnessRange == 0 {
		c.RandomnessRange = defaultRandomnessRange
	}
	if c.ResponseThreshold == 0 {
		c.ResponseThreshold = defaultResponseThreshold
	}
	if c.ResponseChance == 0 {
		c.ResponseChance = defaultResponseChance
	}
	if c.CooldownDuration == 0 {
		c.CooldownDuration = defaultCooldown
	}
	return c
}

// RandFunc returns a uniform random value in [0, 1). Tests stub this for
// determinism, per the engine's determinism-under-fixed-randomness law.
type RandFunc func() float64

// Layer is the Decision Layer. It is pure computation over a buffer
// snapshot plus its own small piece of bookkeeping (last-response time
// per speaker, used for the cooldown gate) — distinct from the Message
// Buffer's last-responded-at, which tracks actual LLM replies.
type Layer struct {
	mu   sync.Mutex
	cfg  Config
	rand RandFunc

	lastResponseAt map[string]time.Time
}

// New creates a Decision Layer with the given configuration and
// randomness source. Pass nil for rnd to use math/rand/v2 via the
// default source.
func New(cfg Config, rnd RandFunc) *Layer {
	if rnd == nil {
		rnd = defaultRand
	}
	return &Layer{
		cfg:            cfg.withDefaults(),
		rand:           rnd,
		lastResponseAt: make(map[string]time.Time),
	}
}

// DetectMention reports whether text contains any configured trigger word,
// case-insensitively.
func (l *Layer) DetectMention(text string) bool {
	lower := strings.ToLower(text)
	for _, w := range l.cfg.TriggerWords {
		if w == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// candidate is one buffer's scored evaluation for a single tick.
type candidate struct {
	speakerID string
	score     float64
	buffered  int
}

// Decide evaluates every speaker buffer in snapshot, picks the
// best-scoring candidate (ties broken by snapshot order — earliest
// speaker wins), and applies the threshold, chance, and cooldown gates.
func (l *Layer) Decide(snapshot []npctypes.SpeakerBufferView, now time.Time) npctypes.Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best *candidate
	var bestScore float64 = -1

	for _, v := range snapshot {
		if len(v.Messages) == 0 {
			continue
		}
		score := l.scoreLocked(v, now)
		if best == nil || score > bestScore {
			c := candidate{speakerID: v.SpeakerID, score: score, buffered: len(v.Messages)}
			best = &c
			bestScore = score
		}
	}

	if best == nil {
		return npctypes.Decision{Respond: false, Reason: npctypes.DeclineEmpty, At: now}
	}

	if bestScore < l.cfg.ResponseThreshold {
		return npctypes.Decision{Respond: false, Reason: npctypes.DeclineBelowThreshold, BestScore: bestScore, At: now}
	}

	if l.rand() >= l.cfg.ResponseChance {
		return npctypes.Decision{Respond: false, Reason: npctypes.DeclineChanceRejected, BestScore: bestScore, At: now}
	}

	cooldownOK := best.buffered > 1
	if !cooldownOK {
		last, ok := l.lastResponseAt[best.speakerID]
		if !ok || last.IsZero() {
			cooldownOK = true
		} else {
			cooldownOK = now.Sub(last) >= l.cfg.CooldownDuration
		}
	}
	if !cooldownOK {
		return npctypes.Decision{Respond: false, Reason: npctypes.DeclineCooldown, BestScore: bestScore, At: now}
	}

	l.lastResponseAt[best.speakerID] = now

	return npctypes.Decision{
		Respond:   true,
		TargetID:  best.speakerID,
		Reason:    npctypes.DeclineNone,
		BestScore: bestScore,
		At:        now,
	}
}

// scoreLocked computes the priority score for one buffer per the
// weighted-bonus formula: direct mention, recency tier, message count,
// consecutive run, age decay, and a final randomness nudge, clamped to
// >= 0.
func (l *Layer) scoreLocked(v npctypes.SpeakerBufferView, now time.Time) float64 {
	score := 0.0

	for _, u := range v.Messages {
		if u.DirectMention {
			score += l.cfg.DirectMentionBonus
			break
		}
	}

	if last := v.LastRespondedAt; !last.IsZero() {
		age := now.Sub(last)
		switch {
		case age <= activeConversationWindow:
			score += activeConversationBonus
		case age <= recentInteractionCeiling:
			score += l.cfg.RecentInteractionBonus
		}
	}

	score += float64(len(v.Messages)) * l.cfg.MessageCountMultiplier

	consecutive := len(v.Messages)
	if consecutive > maxConsecutiveForAccounting {
		consecutive = maxConsecutiveForAccounting
	}
	if consecutive > maxConsecutiveForBonus {
		consecutive = maxConsecutiveForBonus
	}
	score += float64(consecutive) * l.cfg.ConsecutiveBonus

	minutesSinceFirstSeen := now.Sub(v.FirstSeen).Minutes()
	decay := math.Min(minutesSinceFirstSeen*l.cfg.TimeDecayRatePerMinute, l.cfg.MaxTimeDecay)
	score -= decay

	score += l.rand() * l.cfg.RandomnessRange

	return math.Max(score, 0)
}

// ClearHistory forgets all last-response bookkeeping, for engine reset.
func (l *Layer) ClearHistory() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastResponseAt = make(map[string]time.Time)
}
