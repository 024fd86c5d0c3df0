// Package memstore implements the keyword-indexed long-term Memory
// Store: facts injected into the prompt when the recent conversation
// text mentions one of their keywords, subject to a token budget.
package memstore

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/npcmediator/engine/pkg/npctypes"
)

// EstimateTokens is the default token estimator: ceil(len/4). Callers
// anywhere in the engine that need budget math use this exact formula.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// PerTurnOverhead is the estimated framing overhead added per turn when
// budgeting a sequence of turns (role label, delimiters).
const PerTurnOverhead = 5

// Store is the Memory Store. Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	byID    map[string]*npctypes.MemoryEntry
	order   []string // insertion order, for deterministic All()
}

// New creates an empty Memory Store.
func New() *Store {
	return &Store{byID: make(map[string]*npctypes.MemoryEntry)}
}

// Add stores a new entry, lowercasing and trimming keywords on insert,
// and returns its generated id.
func (s *Store) Add(keywords []string, content string, priority int) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleaned := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ToLower(k))
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}

	id := uuid.NewString()
	s.byID[id] = &npctypes.MemoryEntry{
		ID:        id,
		Keywords:  cleaned,
		Content:   content,
		Priority:  priority,
		CreatedAt: time.Now(),
	}
	s.order = append(s.order, id)
	return id
}

// scoredEntry pairs an entry with its match count for one Relevant call.
type scoredEntry struct {
	entry      *npctypes.MemoryEntry
	matchCount int
}

// Relevant joins recentTexts into a lowercase search string, finds every
// entry with at least one matching keyword, ranks by score (priority*10 +
// matchCount*5 + accessed-before bonus of 2), and greedily selects
// entries — highest score first — whose cumulative estimated token cost
// fits within tokenBudget. Selected entries have their access bookkeeping
// updated.
func (s *Store) Relevant(recentTexts []string, tokenBudget int) []npctypes.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	haystack := strings.ToLower(strings.Join(recentTexts, " "))
	if haystack == "" {
		return nil
	}

	var candidates []scoredEntry
	for _, id := range s.order {
		e := s.byID[id]
		matches := 0
		for _, kw := range e.Keywords {
			if kw != "" && strings.Contains(haystack, kw) {
				matches++
			}
		}
		if matches == 0 {
			continue
		}
		candidates = append(candidates, scoredEntry{entry: e, matchCount: matches})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return scoreOf(candidates[i]) > scoreOf(candidates[j])
	})

	var selected []npctypes.MemoryEntry
	used := 0
	now := time.Now()
	for _, c := range candidates {
		cost := EstimateTokens(c.entry.Content)
		if used+cost > tokenBudget {
			break
		}
		used += cost
		c.entry.LastAccessed = now
		c.entry.AccessCount++
		selected = append(selected, *c.entry)
	}
	return selected
}

func scoreOf(c scoredEntry) int {
	accessedBonus := 0
	if c.entry.AccessCount > 0 {
		accessedBonus = 2
	}
	return c.entry.Priority*10 + c.matchCount*5 + accessedBonus
}

// Remove deletes the entry with the given id, if present.
func (s *Store) Remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return
	}
	delete(s.byID, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Clear removes every entry.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*npctypes.MemoryEntry)
	s.order = nil
}

// Count returns the number of stored entries.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Get returns the entry with the given id, if present.
func (s *Store) Get(id string) (npctypes.MemoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return npctypes.MemoryEntry{}, false
	}
	return *e, true
}

// All returns every entry in insertion order.
func (s *Store) All() []npctypes.MemoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]npctypes.MemoryEntry, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.byID[id])
	}
	return out
}
