package orchestrator

import (
	"context"
	"fmt"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

// generatedPersona is the fixed JSON shape every synthesis prompt requests.
// Keys are the generator-facing names, distinct from the canonical
// snake_case attribute names.
type generatedPersona struct {
	Name                string                 `json:"name"`
	Expertise           map[string]interface{} `json:"expertise"`
	Background          map[string]interface{} `json:"background"`
	Personality         map[string]interface{} `json:"personality"`
	DecisionMakingStyle string                 `json:"decisionMakingStyle"`
	DescriptionByAI     string                 `json:"descriptionByAi"`
}

// Synthesizer expands bare attribute profiles into full persona records via
// the generator and persists them.
type Synthesizer struct {
	gen   generation.Client
	store store.PersonaStore
}

// NewSynthesizer creates a persona synthesizer.
func NewSynthesizer(gen generation.Client, st store.PersonaStore) *Synthesizer {
	return &Synthesizer{gen: gen, store: st}
}

// Synthesize creates one persona per profile, strictly sequentially, and
// returns the assigned ids in profile order. A parse failure on any profile
// aborts the whole batch; ids already written stay in the store (creation is
// not transactional, see DESIGN.md).
func (s *Synthesizer) Synthesize(ctx context.Context, profiles []persona.ProfileRequest) ([]string, error) {
	timer := logging.StartTimer(logging.CategoryPersona, "Synthesize")
	defer timer.Stop()

	ids := make([]string, 0, len(profiles))
	for i, profile := range profiles {
		id, err := s.synthesizeOne(ctx, profile)
		if err != nil {
			logging.Get(logging.CategoryPersona).Error("Synthesis of profile %d/%d failed, aborting batch: %v", i+1, len(profiles), err)
			return nil, fmt.Errorf("synthesis of profile %d of %d: %w", i+1, len(profiles), err)
		}
		ids = append(ids, id)
	}

	logging.Persona("Synthesized %d personas", len(ids))
	return ids, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, profile persona.ProfileRequest) (string, error) {
	profile.Normalize()

	raw, err := s.gen.Complete(ctx, buildSynthesisPrompt(profile))
	if err != nil {
		return "", fmt.Errorf("persona generation failed: %w", err)
	}

	var gen generatedPersona
	if err := generation.ParseObject(raw, &gen); err != nil {
		return "", err
	}

	attrs := mergeGenerated(profile, gen)
	id, err := s.store.Create(ctx, attrs)
	if err != nil {
		return "", fmt.Errorf("persona write failed: %w", err)
	}

	logging.PersonaDebug("Synthesized persona id=%s name=%q type=%s", id, attrs.Name, attrs.PersonaType)
	return id, nil
}

// mergeGenerated folds generator output into the caller's profile. The
// generated name only wins when the caller left it empty; the derived fields
// (expertise, background, personality, decision making style, description)
// always come from the generator; caller-supplied custom attributes and
// additional notes pass through untouched.
func mergeGenerated(profile persona.ProfileRequest, gen generatedPersona) persona.Attributes {
	attrs := profile
	if attrs.Name == "" {
		attrs.Name = gen.Name
	}
	attrs.Expertise = gen.Expertise
	attrs.Background = gen.Background
	attrs.Personality = gen.Personality
	attrs.DecisionMakingStyle = gen.DecisionMakingStyle
	attrs.DescriptionByAI = gen.DescriptionByAI
	return attrs
}
