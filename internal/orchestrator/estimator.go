package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

// Panel size bounds shared by estimation and the controller shortfall step.
const (
	MinPersonaCount = 1
	MaxPersonaCount = 7
)

// ErrEstimationEmpty marks an estimation that proposed no usable profiles.
// The controller recovers it into a clarification request for the user.
var ErrEstimationEmpty = errors.New("estimation produced no profiles")

// Estimation is the estimator's answer: how many personas the panel needs
// and an attribute profile for each.
type Estimation struct {
	PersonaCount int                     `json:"persona_count"`
	Profiles     []persona.ProfileRequest `json:"profiles"`
}

// Estimator proposes persona panels for a query.
type Estimator struct {
	gen generation.Client
}

// NewEstimator creates an attribute estimator backed by the given generator.
func NewEstimator(gen generation.Client) *Estimator {
	return &Estimator{gen: gen}
}

// Estimate proposes between 1 and 7 attribute profiles for the query. An
// empty profile list is a hard failure of the new-query branch.
func (e *Estimator) Estimate(ctx context.Context, query string) (*Estimation, error) {
	timer := logging.StartTimer(logging.CategoryEstimator, "Estimate")
	defer timer.Stop()

	raw, err := e.gen.CompleteWithSchema(ctx, estimatorSystemPrompt, query, estimationSchema)
	if err != nil {
		return nil, fmt.Errorf("estimation generation failed: %w", err)
	}

	var result Estimation
	if err := generation.ParseObject(raw, &result); err != nil {
		logging.Get(logging.CategoryEstimator).Error("Estimator output unparsable: %v", err)
		return nil, fmt.Errorf("estimation output unparsable: %w", err)
	}

	if len(result.Profiles) == 0 {
		logging.Get(logging.CategoryEstimator).Warn("Estimator proposed no profiles for query %q", summarize(query, 80))
		return nil, ErrEstimationEmpty
	}

	// persona_count follows the profile list; the model's count is advisory.
	result.PersonaCount = len(result.Profiles)
	if result.PersonaCount > MaxPersonaCount {
		logging.Get(logging.CategoryEstimator).Warn("Estimator proposed %d profiles, trimming to %d", result.PersonaCount, MaxPersonaCount)
		result.Profiles = result.Profiles[:MaxPersonaCount]
		result.PersonaCount = MaxPersonaCount
	}

	for i := range result.Profiles {
		result.Profiles[i].Normalize()
	}

	logging.Get(logging.CategoryEstimator).Info("Estimated %d profiles for query %q", result.PersonaCount, summarize(query, 80))
	return &result, nil
}
