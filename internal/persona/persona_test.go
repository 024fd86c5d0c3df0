package persona_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/npcmediator/engine/internal/persona"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePersona(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "persona.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesSystemPromptTriggerWordsAndFacts(t *testing.T) {
	path := writePersona(t, `
system_prompt: |
  You are Mika, a cat-maid who works the front counter.
trigger_words:
  - maid
  - kitty
facts:
  - keywords: ["hometown", "home"]
    content: "Mika grew up in a small fishing village."
    priority: 5
  - keywords: ["favorite food"]
    content: "Mika's favorite food is grilled fish."
    priority: 3
`)

	p, err := persona.Load(path)
	require.NoError(t, err)

	assert.Contains(t, p.SystemPrompt, "Mika")
	assert.Equal(t, []string{"maid", "kitty"}, p.TriggerWords)
	require.Len(t, p.Facts, 2)
	assert.Equal(t, 5, p.Facts[0].Priority)
	assert.Equal(t, []string{"favorite food"}, p.Facts[1].Keywords)
}

func TestLoadRejectsMissingSystemPrompt(t *testing.T) {
	path := writePersona(t, `
trigger_words: ["maid"]
`)

	_, err := persona.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnreadableFile(t *testing.T) {
	_, err := persona.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

type fakeSeeder struct {
	added [][3]interface{}
}

func (f *fakeSeeder) Add(keywords []string, content string, priority int) string {
	f.added = append(f.added, [3]interface{}{keywords, content, priority})
	return "id"
}

func TestSeedMemoryAddsEveryFactInOrder(t *testing.T) {
	path := writePersona(t, `
system_prompt: "hello"
facts:
  - keywords: ["a"]
    content: "first"
    priority: 1
  - keywords: ["b"]
    content: "second"
    priority: 2
`)

	p, err := persona.Load(path)
	require.NoError(t, err)

	seeder := &fakeSeeder{}
	ids := p.SeedMemory(seeder)

	require.Len(t, ids, 2)
	require.Len(t, seeder.added, 2)
	assert.Equal(t, "first", seeder.added[0][1])
	assert.Equal(t, "second", seeder.added[1][1])
}
