// Package persona defines the persona data model shared by the store, the
// orchestration pipeline, and the HTTP surface.
package persona

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Type selects which optional attribute group is semantically relevant.
type Type string

const (
	TypeBusinessProfessional Type = "business_professional"
	TypeGeneralConsumer      Type = "general_consumer"
	TypeSpecificRole         Type = "specific_role"
	TypeCustom               Type = "custom"
)

// ValidTypes lists every accepted persona type.
var ValidTypes = []Type{
	TypeBusinessProfessional,
	TypeGeneralConsumer,
	TypeSpecificRole,
	TypeCustom,
}

// IsValid reports whether t is a known persona type.
func (t Type) IsValid() bool {
	for _, v := range ValidTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Attributes is a persona minus identity and timestamps. It doubles as the
// profile request shape used for estimation and creation: all fields optional,
// persona_type defaulting to custom.
//
// JSON tags are the canonical field names; everything that speaks about
// persona fields (classifier output, update patches, store columns) uses
// these names.
type Attributes struct {
	PersonaType Type   `json:"persona_type,omitempty"`
	Name        string `json:"name,omitempty"`

	// Demographics
	AgeGroup string `json:"age_group,omitempty"`
	Gender   string `json:"gender,omitempty"`
	Location string `json:"location,omitempty"`

	// Professional
	Occupation      string `json:"occupation,omitempty"`
	Industry        string `json:"industry,omitempty"`
	JobTitle        string `json:"job_title,omitempty"`
	CompanySize     string `json:"company_size,omitempty"`
	RoleDescription string `json:"role_description,omitempty"`

	// Consumer
	Interests           []string `json:"interests,omitempty"`
	ValuesAndPriorities []string `json:"values_and_priorities,omitempty"`

	// Free-form structured groups
	Expertise           map[string]interface{} `json:"expertise,omitempty"`
	Background          map[string]interface{} `json:"background,omitempty"`
	Personality         map[string]interface{} `json:"personality,omitempty"`
	DecisionMakingStyle string                 `json:"decision_making_style,omitempty"`
	CustomAttributes    map[string]interface{} `json:"custom_attributes,omitempty"`
	AdditionalNotes     string                 `json:"additional_notes,omitempty"`

	// Narrative synthesized from the other attributes; regenerable.
	DescriptionByAI string `json:"description_by_ai,omitempty"`
}

// ProfileRequest is an attribute profile without identity, used as input to
// estimation and creation.
type ProfileRequest = Attributes

// Persona is a named attribute record plus store-assigned identity.
type Persona struct {
	ID string `json:"id"`
	Attributes
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Normalize applies defaults in place: persona_type falls back to custom.
func (a *Attributes) Normalize() {
	if a.PersonaType == "" {
		a.PersonaType = TypeCustom
	}
}

// Validate checks structural invariants. Records failing validation are
// dropped by the retriever rather than failing a whole search.
func (p *Persona) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("persona missing id")
	}
	if p.PersonaType != "" && !p.PersonaType.IsValid() {
		return fmt.Errorf("unknown persona_type %q", p.PersonaType)
	}
	return nil
}

// fieldsImmutableInPatch are never taken from an update patch.
var fieldsImmutableInPatch = []string{"id", "created_at", "updated_at"}

// ApplyPatch merges a partial-attribute patch (keyed by canonical field
// names) into a persona. Patch fields always win except identity and
// timestamps. Returns the merged persona; the receiver is not modified.
func ApplyPatch(p Persona, patch map[string]interface{}) (Persona, error) {
	base, err := toMap(p)
	if err != nil {
		return Persona{}, err
	}

	for k, v := range patch {
		if isImmutableField(k) {
			continue
		}
		if v == nil {
			delete(base, k)
			continue
		}
		base[k] = v
	}
	base["id"] = p.ID

	raw, err := json.Marshal(base)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to re-encode merged persona: %w", err)
	}
	var merged Persona
	if err := json.Unmarshal(raw, &merged); err != nil {
		return Persona{}, fmt.Errorf("patch produced an invalid persona: %w", err)
	}
	merged.CreatedAt = p.CreatedAt
	merged.UpdatedAt = p.UpdatedAt
	return merged, nil
}

// PatchTouchesOtherThan reports whether the patch contains at least one
// mutable key other than the given field.
func PatchTouchesOtherThan(patch map[string]interface{}, field string) bool {
	for k := range patch {
		if isImmutableField(k) || k == field {
			continue
		}
		return true
	}
	return false
}

func isImmutableField(name string) bool {
	for _, f := range fieldsImmutableInPatch {
		if name == f {
			return true
		}
	}
	return false
}

func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode persona: %w", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to decode persona map: %w", err)
	}
	return m, nil
}

// AttributePair is one labeled attribute for prompt embedding.
type AttributePair struct {
	Label string
	Value string
}

// PopulatedAttributes returns every populated attribute in a fixed,
// human-readable order. Used by the responder prompt and surfaced in the
// final API response.
func (a *Attributes) PopulatedAttributes() []AttributePair {
	pairs := make([]AttributePair, 0, 16)
	add := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			pairs = append(pairs, AttributePair{Label: label, Value: value})
		}
	}

	add("Name", a.Name)
	add("Persona type", string(a.PersonaType))
	add("Age group", a.AgeGroup)
	add("Gender", a.Gender)
	add("Location", a.Location)
	add("Occupation", a.Occupation)
	add("Industry", a.Industry)
	add("Job title", a.JobTitle)
	add("Company size", a.CompanySize)
	add("Role description", a.RoleDescription)
	add("Interests", strings.Join(a.Interests, ", "))
	add("Values and priorities", strings.Join(a.ValuesAndPriorities, ", "))
	add("Expertise", formatStructured(a.Expertise))
	add("Background", formatStructured(a.Background))
	add("Personality", formatStructured(a.Personality))
	add("Decision-making style", a.DecisionMakingStyle)
	add("Custom attributes", formatStructured(a.CustomAttributes))
	add("Additional notes", a.AdditionalNotes)
	add("Description", a.DescriptionByAI)
	return pairs
}

// formatStructured renders a free-form map as "key: value; key: value" with
// keys sorted for deterministic prompts.
func formatStructured(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %v", k, m[k]))
	}
	return strings.Join(parts, "; ")
}
