package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

func TestEstimateReturnsProfiles(t *testing.T) {
	gen := &fakeGenerator{
		CompleteWithSchemaFn: func(_, _ string, _ map[string]interface{}) (string, error) {
			return `{
				"persona_count": 2,
				"profiles": [
					{"persona_type": "general_consumer", "age_group": "60s", "values_and_priorities": ["frugality"]},
					{"persona_type": "general_consumer", "age_group": "20s", "interests": ["technology"]}
				]
			}`, nil
		},
	}
	e := NewEstimator(gen)

	result, err := e.Estimate(context.Background(), "subscription price increase reactions")
	require.NoError(t, err)
	assert.Equal(t, 2, result.PersonaCount)
	require.Len(t, result.Profiles, 2)
	assert.Equal(t, persona.TypeGeneralConsumer, result.Profiles[0].PersonaType)
	assert.GreaterOrEqual(t, result.PersonaCount, MinPersonaCount)
	assert.LessOrEqual(t, result.PersonaCount, MaxPersonaCount)
}

func TestEstimateCountFollowsProfileList(t *testing.T) {
	// The model's persona_count disagrees with its own profile list.
	gen := &fakeGenerator{
		CompleteWithSchemaFn: func(_, _ string, _ map[string]interface{}) (string, error) {
			return `{
				"persona_count": 5,
				"profiles": [{"persona_type": "custom"}]
			}`, nil
		},
	}
	e := NewEstimator(gen)

	result, err := e.Estimate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, 1, result.PersonaCount)
}

func TestEstimateTrimsAboveMaximum(t *testing.T) {
	var profiles []string
	for i := 0; i < 9; i++ {
		profiles = append(profiles, `{"persona_type": "custom"}`)
	}
	gen := &fakeGenerator{
		CompleteWithSchemaFn: func(_, _ string, _ map[string]interface{}) (string, error) {
			return fmt.Sprintf(`{"persona_count": 9, "profiles": [%s]}`, strings.Join(profiles, ",")), nil
		},
	}
	e := NewEstimator(gen)

	result, err := e.Estimate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, MaxPersonaCount, result.PersonaCount)
	assert.Len(t, result.Profiles, MaxPersonaCount)
}

func TestEstimateEmptyProfilesIsHardFailure(t *testing.T) {
	gen := &fakeGenerator{
		CompleteWithSchemaFn: func(_, _ string, _ map[string]interface{}) (string, error) {
			return `{"persona_count": 0, "profiles": []}`, nil
		},
	}
	e := NewEstimator(gen)

	_, err := e.Estimate(context.Background(), "???")
	assert.True(t, errors.Is(err, ErrEstimationEmpty))
}

func TestEstimateNormalizesPersonaType(t *testing.T) {
	gen := &fakeGenerator{
		CompleteWithSchemaFn: func(_, _ string, _ map[string]interface{}) (string, error) {
			return `{"persona_count": 1, "profiles": [{"occupation": "florist"}]}`, nil
		},
	}
	e := NewEstimator(gen)

	result, err := e.Estimate(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, persona.TypeCustom, result.Profiles[0].PersonaType)
}
