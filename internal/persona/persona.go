// Package persona loads the NPC's identity from a YAML file: the
// system prompt handed to the Conversation Manager, the trigger words
// the Decision Layer watches for, and a set of long-term facts that
// seed the Memory Store at startup.
package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Fact is one long-term memory entry to seed at startup.
type Fact struct {
	Keywords []string `yaml:"keywords"`
	Content  string   `yaml:"content"`
	Priority int      `yaml:"priority"`
}

// document mirrors the on-disk YAML shape.
type document struct {
	SystemPrompt string   `yaml:"system_prompt"`
	TriggerWords []string `yaml:"trigger_words"`
	Facts        []Fact   `yaml:"facts"`
}

// Persona is the loaded, validated persona definition.
type Persona struct {
	SystemPrompt string
	TriggerWords []string
	Facts        []Fact
}

// MemorySeeder is the subset of internal/memstore.Store a persona needs
// to seed its facts at startup.
type MemorySeeder interface {
	Add(keywords []string, content string, priority int) string
}

// Load reads and parses a persona definition from path.
func Load(path string) (*Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persona: read %q: %w", path, err)
	}

	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("persona: parse %q: %w", path, err)
	}

	doc.SystemPrompt = strings.TrimSpace(doc.SystemPrompt)
	if doc.SystemPrompt == "" {
		return nil, fmt.Errorf("persona: %q has no system_prompt", path)
	}

	p := &Persona{
		SystemPrompt: doc.SystemPrompt,
		TriggerWords: doc.TriggerWords,
		Facts:        doc.Facts,
	}
	return p, nil
}

// SeedMemory adds every fact in the persona to store, returning the
// generated ids in definition order.
func (p *Persona) SeedMemory(store MemorySeeder) []string {
	ids := make([]string, 0, len(p.Facts))
	for _, f := range p.Facts {
		ids = append(ids, store.Add(f.Keywords, f.Content, f.Priority))
	}
	return ids
}
