package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

// fallbackAnswer stands in for a persona whose generation call failed or
// came back empty.
const fallbackAnswer = "I'm sorry, I couldn't come up with an answer to this question right now."

// PersonaAnswer is one settled fan-out result. Exactly one of Answer or Err
// is populated.
type PersonaAnswer struct {
	PersonaID   string
	PersonaName string
	Attributes  persona.Attributes
	Answer      string
	Err         string
}

// Responder answers a single question in character for one persona.
type Responder struct {
	gen   generation.Client
	store store.PersonaStore
}

// NewResponder creates a persona responder.
func NewResponder(gen generation.Client, st store.PersonaStore) *Responder {
	return &Responder{gen: gen, store: st}
}

// Respond fetches the persona and asks the generator for an in-character
// answer. A missing persona is an error for this one persona only; the
// controller keeps the rest of the fan-out alive. A generation failure or
// empty completion becomes a literal fallback answer, not an error.
func (r *Responder) Respond(ctx context.Context, personaID, question string) (*PersonaAnswer, error) {
	timer := logging.StartTimer(logging.CategoryPersona, "Respond")
	defer timer.Stop()

	p, err := r.store.Get(ctx, personaID)
	if err != nil {
		return nil, fmt.Errorf("responder target: %w", err)
	}

	answer, err := r.gen.Complete(ctx, buildResponderPrompt(p, question))
	if err != nil || strings.TrimSpace(answer) == "" {
		logging.Get(logging.CategoryPersona).Warn("Responder generation failed for id=%s, using fallback: %v", personaID, err)
		answer = fallbackAnswer
	}

	return &PersonaAnswer{
		PersonaID:   p.ID,
		PersonaName: p.Name,
		Attributes:  p.Attributes,
		Answer:      strings.TrimSpace(answer),
	}, nil
}
