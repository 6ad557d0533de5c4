package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

// newController wires a controller over the given store and generator.
func newController(gen *fakeGenerator, m *memStore) *Controller {
	retriever := NewRetriever(m, nil)
	return NewController(
		gen,
		NewClassifier(gen),
		NewEstimator(gen),
		retriever,
		NewSynthesizer(gen, m),
		NewUpdater(gen, m),
		NewResponder(gen, m),
	)
}

// scriptGenerator routes calls by prompt content the way the real pipeline
// issues them: classification and estimation on the schema path, everything
// else on plain completions.
func scriptGenerator(classification, estimation string) *fakeGenerator {
	gen := &fakeGenerator{}
	gen.CompleteWithSchemaFn = func(system, _ string, _ map[string]interface{}) (string, error) {
		if system == classifierSystemPrompt {
			return classification, nil
		}
		return estimation, nil
	}
	gen.CompleteWithSystemFn = func(_, _ string) (string, error) {
		return "The panel broadly agrees; here is the synthesis.", nil
	}
	gen.CompleteFn = func(prompt string) (string, error) {
		switch {
		case strings.Contains(prompt, "Propose exactly"):
			return `[{"persona_type": "general_consumer", "age_group": "60s"}, {"persona_type": "general_consumer", "age_group": "20s"}]`, nil
		case strings.Contains(prompt, "Respond with exactly this JSON shape"):
			return validGenerated, nil
		case strings.Contains(prompt, "You are the person described below"):
			return "Speaking for myself, I would push back on the increase.", nil
		case strings.Contains(prompt, "A persona update was attempted"):
			return "Done, the persona was updated.", nil
		default:
			return "Hello! How can I help?", nil
		}
	}
	return gen
}

const newQueryClassification = `{"task_type": "new_query"}`

const twoConsumerEstimation = `{
	"persona_count": 2,
	"profiles": [
		{"persona_type": "general_consumer", "age_group": "60s", "values_and_priorities": ["frugality"]},
		{"persona_type": "general_consumer", "age_group": "20s", "interests": ["technology"]}
	]
}`

func TestRunNewQueryEndToEnd(t *testing.T) {
	gen := scriptGenerator(newQueryClassification, twoConsumerEstimation)
	m := newMemStore()
	c := newController(gen, m)

	query := "Compare how a frugal retiree and a tech-savvy student would react to a subscription price increase"
	result, err := c.Run(context.Background(), query)
	require.NoError(t, err)

	assert.Equal(t, ResultOrchestratorFinal, result.Type)
	assert.Equal(t, query, result.UserQuery)
	assert.NotEmpty(t, result.OrchestratorMessage)
	// Empty store: both panelists were synthesized, both answered.
	require.Len(t, result.PersonaResponses, 2)
	for _, pr := range result.PersonaResponses {
		assert.NotEmpty(t, pr.PersonaID)
		assert.NotEmpty(t, pr.ResponseText)
		assert.Empty(t, pr.Error)
	}
	// The final synthesis ran exactly once, after the full fan-out.
	assert.Equal(t, 1, gen.CallsOfKind("system"))
}

func TestRunNewQuerySkipsCreationOnZeroShortfall(t *testing.T) {
	gen := scriptGenerator(newQueryClassification, twoConsumerEstimation)
	m := newMemStore()
	seedPanel(m) // retiree and student match the estimated profiles

	c := newController(gen, m)
	result, err := c.Run(context.Background(), "subscription price increase")
	require.NoError(t, err)

	require.Equal(t, ResultOrchestratorFinal, result.Type)
	assert.Len(t, result.PersonaResponses, 2)
	// No shortfall prompt and no synthesis prompt were issued.
	for _, call := range gen.Calls() {
		assert.NotContains(t, call.Prompt, "Propose exactly")
		assert.NotContains(t, call.Prompt, "Respond with exactly this JSON shape")
	}
}

func TestRunNewQueryEstimationEmptyYieldsApology(t *testing.T) {
	gen := scriptGenerator(newQueryClassification, `{"persona_count": 0, "profiles": []}`)
	c := newController(gen, newMemStore())

	result, err := c.Run(context.Background(), "???")
	require.NoError(t, err)

	assert.Equal(t, ResultOrchestratorFinal, result.Type)
	assert.Equal(t, apologyMessage, result.OrchestratorMessage)
	assert.Empty(t, result.PersonaResponses)
	// The pipeline stopped before retrieval and responding.
	assert.Equal(t, 0, gen.CallsOfKind("complete"))
	assert.Equal(t, 0, gen.CallsOfKind("system"))
}

func TestRunClassificationFailureIsFatal(t *testing.T) {
	gen := scriptGenerator("total nonsense", twoConsumerEstimation)
	c := newController(gen, newMemStore())

	_, err := c.Run(context.Background(), "anything")
	require.Error(t, err)
}

func TestFanOutResilience(t *testing.T) {
	gen := scriptGenerator(newQueryClassification, twoConsumerEstimation)
	m := newMemStore()
	c := newController(gen, m)

	ids := make([]string, 0, 5)
	for i := 0; i < 3; i++ {
		ids = append(ids, m.seed(persona.Attributes{Name: fmt.Sprintf("Panelist %d", i+1)}))
	}
	// Two ids that do not exist in the store.
	ids = append(ids, "ghost-1", "ghost-2")

	answers := c.fanOut(context.Background(), ids, "q")
	require.Len(t, answers, 5, "the batch always completes in full")

	failed := 0
	for i, a := range answers {
		assert.Equal(t, ids[i], a.PersonaID, "results align with ids by index")
		if a.Err != "" {
			failed++
			assert.Empty(t, a.Answer)
		} else {
			assert.NotEmpty(t, a.Answer)
		}
	}
	assert.Equal(t, 2, failed)
}

func TestAppendUniqueDeduplicates(t *testing.T) {
	union := appendUnique([]string{"a", "b"}, []string{"b", "c", "a", "c"})
	assert.Equal(t, []string{"a", "b", "c"}, union)
}

func TestRunUpdatePersonaByName(t *testing.T) {
	classification := `{
		"task_type": "update_persona",
		"persona_name_to_update": "Taro Tanaka",
		"update_attributes": {"age_group": "30s"}
	}`
	gen := scriptGenerator(classification, "")
	m := newMemStore()
	id := m.seed(persona.Attributes{Name: "Taro Tanaka", AgeGroup: "40s"})

	c := newController(gen, m)
	result, err := c.Run(context.Background(), "Update persona named Taro Tanaka, set age_group to 30s")
	require.NoError(t, err)

	require.Equal(t, ResultPersonaUpdate, result.Type)
	require.NotNil(t, result.Data)
	assert.Equal(t, "success", result.Data.Status)
	assert.Equal(t, id, result.Data.PersonaID)
	assert.NotEmpty(t, result.Message)

	p, err := m.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "30s", p.AgeGroup)
}

func TestRunUpdatePersonaNameNotFound(t *testing.T) {
	classification := `{
		"task_type": "update_persona",
		"persona_name_to_update": "Taro Tanaka",
		"update_attributes": {"age_group": "30s"}
	}`
	gen := scriptGenerator(classification, "")
	c := newController(gen, newMemStore())

	result, err := c.Run(context.Background(), "Update persona named Taro Tanaka, set age_group to 30s")
	require.NoError(t, err)

	assert.Equal(t, ResultError, result.Type)
	assert.Contains(t, result.Message, "not found")
	assert.Contains(t, result.Message, "Taro Tanaka")
}

func TestRunUpdateWithoutAttributesFails(t *testing.T) {
	classification := `{
		"task_type": "update_persona",
		"persona_name_to_update": "Taro Tanaka"
	}`
	gen := scriptGenerator(classification, "")
	m := newMemStore()
	m.seed(persona.Attributes{Name: "Taro Tanaka"})

	c := newController(gen, m)
	result, err := c.Run(context.Background(), "Update Taro Tanaka somehow")
	require.NoError(t, err)

	assert.Equal(t, ResultError, result.Type)
	assert.NotEmpty(t, result.Message)
}

func TestRunUpdateWithoutAnyTargetFails(t *testing.T) {
	classification := `{
		"task_type": "update_persona",
		"update_attributes": {"age_group": "30s"}
	}`
	gen := scriptGenerator(classification, "")
	c := newController(gen, newMemStore())

	result, err := c.Run(context.Background(), "update someone")
	require.NoError(t, err)
	assert.Equal(t, ResultError, result.Type)
}

func TestRunGeneralConversation(t *testing.T) {
	gen := scriptGenerator(`{"task_type": "general_conversation"}`, "")
	c := newController(gen, newMemStore())

	result, err := c.Run(context.Background(), "Good morning!")
	require.NoError(t, err)

	assert.Equal(t, ResultGeneralConversation, result.Type)
	assert.Equal(t, "Hello! How can I help?", result.Message)
}
