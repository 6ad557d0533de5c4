package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

// UpdateResult is the structured outcome of one update. The updater reports
// failures through it instead of returning an error, so the controller can
// phrase them for the user without aborting the conversation turn.
type UpdateResult struct {
	Status        string   `json:"status"` // "success" or "error"
	PersonaID     string   `json:"persona_id,omitempty"`
	PersonaName   string   `json:"persona_name,omitempty"`
	UpdatedFields []string `json:"updated_fields,omitempty"`
	Message       string   `json:"message,omitempty"`
}

// Updater merges attribute patches into existing personas, regenerating the
// derived description when the change warrants it.
type Updater struct {
	gen   generation.Client
	store store.PersonaStore
}

// NewUpdater creates a persona updater.
func NewUpdater(gen generation.Client, st store.PersonaStore) *Updater {
	return &Updater{gen: gen, store: st}
}

const descriptionField = "description_by_ai"

// Update merges the patch into the persona with the given id. Patch fields
// win except identity and timestamps. The derived description is regenerated
// when forceRegenerate is set, or when the patch changes anything else
// without supplying a description of its own; a regeneration parse failure
// is absorbed and the pre-regeneration description kept.
func (u *Updater) Update(ctx context.Context, personaID string, patch map[string]interface{}, forceRegenerate bool) UpdateResult {
	timer := logging.StartTimer(logging.CategoryPersona, "Update")
	defer timer.Stop()

	existing, err := u.store.Get(ctx, personaID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return UpdateResult{Status: "error", PersonaID: personaID, Message: fmt.Sprintf("persona %s not found", personaID)}
		}
		logging.Get(logging.CategoryPersona).Error("Update fetch failed for id=%s: %v", personaID, err)
		return UpdateResult{Status: "error", PersonaID: personaID, Message: "failed to load persona"}
	}

	merged, err := persona.ApplyPatch(*existing, patch)
	if err != nil {
		logging.Get(logging.CategoryPersona).Error("Patch rejected for id=%s: %v", personaID, err)
		return UpdateResult{Status: "error", PersonaID: personaID, PersonaName: existing.Name,
			Message: fmt.Sprintf("update attributes were not applicable: %v", err)}
	}

	// An invalid merge must never reach the store: a row that fails
	// validation would be rejected by every later read of this persona.
	merged.Attributes.Normalize()
	if err := merged.Validate(); err != nil {
		logging.Get(logging.CategoryPersona).Error("Patch produced invalid persona id=%s: %v", personaID, err)
		return UpdateResult{Status: "error", PersonaID: personaID, PersonaName: existing.Name,
			Message: fmt.Sprintf("update attributes were not applicable: %v", err)}
	}

	patchSetsDescription := false
	if _, ok := patch[descriptionField]; ok {
		patchSetsDescription = true
	}
	regenerate := forceRegenerate ||
		(persona.PatchTouchesOtherThan(patch, descriptionField) && !patchSetsDescription)

	if regenerate {
		if desc, ok := u.regenerateDescription(ctx, merged.Attributes); ok {
			merged.DescriptionByAI = desc
		}
		// On failure the merged (pre-regeneration) description stands.
	}

	now := time.Now().UTC()
	if err := u.store.Update(ctx, existing.ID, merged.Attributes, now); err != nil {
		logging.Get(logging.CategoryPersona).Error("Update write failed for id=%s: %v", existing.ID, err)
		return UpdateResult{Status: "error", PersonaID: existing.ID, PersonaName: existing.Name,
			Message: "failed to save the updated persona"}
	}

	logging.Persona("Updated persona id=%s fields=%v regenerated=%t", existing.ID, patchFields(patch), regenerate)
	return UpdateResult{
		Status:        "success",
		PersonaID:     existing.ID,
		PersonaName:   merged.Name,
		UpdatedFields: patchFields(patch),
	}
}

// regenerateDescription rebuilds the narrative from the merged attributes
// using the same role-templated prompt as synthesis, keeping only the
// description field of the output.
func (u *Updater) regenerateDescription(ctx context.Context, attrs persona.Attributes) (string, bool) {
	raw, err := u.gen.Complete(ctx, buildSynthesisPrompt(attrs))
	if err != nil {
		logging.Get(logging.CategoryPersona).Warn("Description regeneration call failed, keeping existing description: %v", err)
		return "", false
	}

	var gen generatedPersona
	if err := generation.ParseObject(raw, &gen); err != nil {
		logging.Get(logging.CategoryPersona).Warn("Description regeneration output unparsable, keeping existing description: %v", err)
		return "", false
	}
	if gen.DescriptionByAI == "" {
		return "", false
	}
	return gen.DescriptionByAI, true
}

func patchFields(patch map[string]interface{}) []string {
	fields := make([]string, 0, len(patch))
	for k := range patch {
		fields = append(fields, k)
	}
	sort.Strings(fields)
	return fields
}
