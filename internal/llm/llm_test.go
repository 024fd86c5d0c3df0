package llm

import (
	"testing"

	"github.com/npcmediator/engine/pkg/npctypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSystemAndTurnsJoinsSystemAndMergesConsecutiveRoles(t *testing.T) {
	turns := []npctypes.Turn{
		{Role: npctypes.RoleSystem, Content: "persona"},
		{Role: npctypes.RoleSystem, Content: "[Memory] likes cats"},
		{Role: npctypes.RoleUser, Content: "[Alice] hi"},
		{Role: npctypes.RoleUser, Content: "[Alice] are you there"},
		{Role: npctypes.RoleAssistant, Content: "yes"},
	}

	system, messages := splitSystemAndTurns(turns)

	assert.Equal(t, "persona\n\n[Memory] likes cats", system)
	require.Len(t, messages, 2)
	assert.Equal(t, "user", messages[0].Role)
	assert.Contains(t, messages[0].Content, "hi")
	assert.Contains(t, messages[0].Content, "are you there")
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestToOpenAIMessagesPreservesOrderAndRoles(t *testing.T) {
	turns := []npctypes.Turn{
		{Role: npctypes.RoleSystem, Content: "persona"},
		{Role: npctypes.RoleUser, Content: "[Alice] hi"},
	}

	messages := toOpenAIMessages(turns)

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "user", messages[1].Role)
	assert.Equal(t, "[Alice] hi", messages[1].Content)
}

func TestToOllamaMessagesPreservesOrderAndRoles(t *testing.T) {
	turns := []npctypes.Turn{
		{Role: npctypes.RoleSystem, Content: "persona"},
		{Role: npctypes.RoleAssistant, Content: "hello"},
	}

	messages := toOllamaMessages(turns)

	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].Role)
	assert.Equal(t, "assistant", messages[1].Role)
}

func TestNewChatGeneratorSelectsProvider(t *testing.T) {
	gen, err := NewChatGenerator(ProviderConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	_, ok := gen.(*OpenAIClient)
	assert.True(t, ok)

	gen, err = NewChatGenerator(ProviderConfig{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	_, ok = gen.(*AnthropicClient)
	assert.True(t, ok)

	gen, err = NewChatGenerator(ProviderConfig{})
	require.NoError(t, err)
	_, ok = gen.(*OllamaClient)
	assert.True(t, ok)

	_, err = NewChatGenerator(ProviderConfig{Provider: "not-a-provider"})
	assert.Error(t, err)
}
