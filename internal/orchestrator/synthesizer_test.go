package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

const validGenerated = `{
	"name": "Generated Name",
	"expertise": {"area": "pricing"},
	"background": {"history": "ten years in retail"},
	"personality": {"traits": "direct"},
	"decisionMakingStyle": "data first",
	"descriptionByAi": "A generated narrative."
}`

func TestSynthesizeMergeRules(t *testing.T) {
	gen := &fakeGenerator{
		CompleteFn: func(_ string) (string, error) { return validGenerated, nil },
	}
	m := newMemStore()
	s := NewSynthesizer(gen, m)

	profiles := []persona.ProfileRequest{
		{
			PersonaType:         persona.TypeBusinessProfessional,
			Name:                "Caller Name",
			DecisionMakingStyle: "gut feeling",
			CustomAttributes:    map[string]interface{}{"tier": "vip"},
			AdditionalNotes:     "keep these notes",
		},
		{
			PersonaType: persona.TypeGeneralConsumer,
		},
	}

	ids, err := s.Synthesize(context.Background(), profiles)
	require.NoError(t, err)
	require.Len(t, ids, 2)

	first, err := m.Get(context.Background(), ids[0])
	require.NoError(t, err)
	// Caller-supplied name wins over the generated one.
	assert.Equal(t, "Caller Name", first.Name)
	// Derived fields always come from the generator.
	assert.Equal(t, "data first", first.DecisionMakingStyle)
	assert.Equal(t, "pricing", first.Expertise["area"])
	assert.Equal(t, "A generated narrative.", first.DescriptionByAI)
	// Custom attributes and notes pass through untouched.
	assert.Equal(t, "vip", first.CustomAttributes["tier"])
	assert.Equal(t, "keep these notes", first.AdditionalNotes)

	second, err := m.Get(context.Background(), ids[1])
	require.NoError(t, err)
	// No caller name, so the generated one is used.
	assert.Equal(t, "Generated Name", second.Name)
}

func TestSynthesizeIsSequential(t *testing.T) {
	var running int32
	gen := &fakeGenerator{
		CompleteFn: func(_ string) (string, error) {
			if running != 0 {
				return "", errors.New("overlapping synthesis calls")
			}
			running++
			defer func() { running-- }()
			return validGenerated, nil
		},
	}
	s := NewSynthesizer(gen, newMemStore())

	_, err := s.Synthesize(context.Background(), []persona.ProfileRequest{
		{PersonaType: persona.TypeCustom},
		{PersonaType: persona.TypeCustom},
		{PersonaType: persona.TypeCustom},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, gen.CallsOfKind("complete"))
}

func TestSynthesizeParseFailureAbortsBatch(t *testing.T) {
	call := 0
	gen := &fakeGenerator{
		CompleteFn: func(_ string) (string, error) {
			call++
			if call == 2 {
				return "not json at all", nil
			}
			return validGenerated, nil
		},
	}
	m := newMemStore()
	s := NewSynthesizer(gen, m)

	ids, err := s.Synthesize(context.Background(), []persona.ProfileRequest{
		{PersonaType: persona.TypeCustom},
		{PersonaType: persona.TypeCustom},
		{PersonaType: persona.TypeCustom},
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, generation.ErrMalformedJSON))
	assert.Nil(t, ids, "no partial id set on batch failure")
	// The third profile was never attempted.
	assert.Equal(t, 2, gen.CallsOfKind("complete"))
	// The first write is not rolled back.
	all, _ := m.Search(context.Background(), store.Filter{})
	assert.Len(t, all, 1)
}

func TestSynthesizePromptSelectsTypeBranch(t *testing.T) {
	var prompts []string
	gen := &fakeGenerator{
		CompleteFn: func(prompt string) (string, error) {
			prompts = append(prompts, prompt)
			return validGenerated, nil
		},
	}
	s := NewSynthesizer(gen, newMemStore())

	_, err := s.Synthesize(context.Background(), []persona.ProfileRequest{
		{PersonaType: persona.TypeBusinessProfessional, Industry: "logistics"},
		{PersonaType: persona.TypeGeneralConsumer},
	})
	require.NoError(t, err)
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "business professional")
	assert.Contains(t, prompts[0], "logistics")
	assert.Contains(t, prompts[1], "consumer")
	// Both request the fixed output shape.
	for _, p := range prompts {
		assert.True(t, strings.Contains(p, "descriptionByAi"))
	}
}
