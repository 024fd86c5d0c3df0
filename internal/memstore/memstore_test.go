package memstore_test

import (
	"strings"
	"testing"

	"github.com/npcmediator/engine/internal/memstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, memstore.EstimateTokens(""))
	assert.Equal(t, 1, memstore.EstimateTokens("abcd"))
	assert.Equal(t, 2, memstore.EstimateTokens("abcde"))
	assert.Equal(t, 100, memstore.EstimateTokens(strings.Repeat("x", 400)))
}

func TestAddLowercasesAndTrimsKeywords(t *testing.T) {
	s := memstore.New()
	id := s.Add([]string{" Cat ", "MAID"}, "the npc likes cats", 5)

	e, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, []string{"cat", "maid"}, e.Keywords)
}

func TestRelevantFiltersByKeywordSubstring(t *testing.T) {
	s := memstore.New()
	s.Add([]string{"cat"}, "the npc has a pet cat named Momo", 5)
	s.Add([]string{"sword"}, "the npc carries a silver sword", 5)

	results := s.Relevant([]string{"tell me about your cat"}, 1000)

	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "Momo")
}

func TestRelevantRanksByScoreDescending(t *testing.T) {
	s := memstore.New()
	s.Add([]string{"cat"}, "low priority cat fact", 1)
	s.Add([]string{"cat"}, "high priority cat fact", 10)

	results := s.Relevant([]string{"cat cat cat"}, 1000)

	require.Len(t, results, 2)
	assert.Contains(t, results[0].Content, "high priority")
}

// Scenario 6: memory injection bounded by token budget.
func TestRelevantRespectsBudget(t *testing.T) {
	s := memstore.New()
	content := strings.Repeat("x", 400) // ~100 tokens each
	s.Add([]string{"cat"}, content+"-one", 10)
	s.Add([]string{"cat"}, content+"-two", 9)
	s.Add([]string{"cat"}, content+"-three", 8)

	results := s.Relevant([]string{"i love my cat"}, 250)

	assert.Len(t, results, 2)
}

func TestRelevantBudgetMonotonicity(t *testing.T) {
	s := memstore.New()
	content := strings.Repeat("x", 400)
	s.Add([]string{"cat"}, content+"-one", 10)
	s.Add([]string{"cat"}, content+"-two", 9)
	s.Add([]string{"cat"}, content+"-three", 8)

	small := s.Relevant([]string{"cat"}, 100)
	large := s.Relevant([]string{"cat"}, 200)

	smallIDs := map[string]bool{}
	for _, e := range small {
		smallIDs[e.ID] = true
	}
	largeIDs := map[string]bool{}
	for _, e := range large {
		largeIDs[e.ID] = true
	}
	for id := range smallIDs {
		assert.True(t, largeIDs[id], "entry present at smaller budget must remain present at larger budget")
	}
}

// Mirrors the counterexample that breaks best-fit packing: a high-score
// entry costing 3 tokens and a low-score entry costing 2 tokens. Best-fit
// packing would return {low} at budget=2 (the high-score entry doesn't
// fit, so it tries the next) and {high} at budget=4, dropping the
// low-score entry as the budget grows. The greedy-by-score prefix never
// does this: it stops at the first entry that doesn't fit and never
// considers anything after it.
func TestRelevantBudgetMonotonicityWithMixedCosts(t *testing.T) {
	s := memstore.New()
	highScoreCostThree := strings.Repeat("x", 12) // ceil(12/4) = 3 tokens
	lowScoreCostTwo := strings.Repeat("y", 8)     // ceil(8/4) = 2 tokens
	s.Add([]string{"cat"}, highScoreCostThree, 10)
	s.Add([]string{"cat"}, lowScoreCostTwo, 1)

	atTwo := s.Relevant([]string{"cat"}, 2)
	atFour := s.Relevant([]string{"cat"}, 4)

	assert.Empty(t, atTwo, "the high-score entry doesn't fit in 2 tokens, so the prefix stops before the low-score entry")
	require.Len(t, atFour, 1)
	assert.Equal(t, highScoreCostThree, atFour[0].Content)
}

func TestRelevantUpdatesAccessBookkeeping(t *testing.T) {
	s := memstore.New()
	id := s.Add([]string{"cat"}, "a cat fact", 5)

	results := s.Relevant([]string{"my cat"}, 1000)
	require.Len(t, results, 1)

	e, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, e.AccessCount)
	assert.False(t, e.LastAccessed.IsZero())
}

func TestRemoveAndClearAndCount(t *testing.T) {
	s := memstore.New()
	id1 := s.Add([]string{"a"}, "one", 1)
	s.Add([]string{"b"}, "two", 1)

	assert.Equal(t, 2, s.Count())

	s.Remove(id1)
	assert.Equal(t, 1, s.Count())

	s.Clear()
	assert.Equal(t, 0, s.Count())
	assert.Empty(t, s.All())
}
