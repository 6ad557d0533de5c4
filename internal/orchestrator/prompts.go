package orchestrator

import (
	"fmt"
	"strings"

	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

// =============================================================================
// CLASSIFICATION
// =============================================================================

const classifierSystemPrompt = `You are the intent router of a persona panel service.
Classify the user's message into exactly one task type:

- "update_persona": the user asks to change attributes of an existing persona.
  Extract the target by id when one is given, otherwise by name; never both.
  Express the attributes to change using these canonical field names only:
  persona_type, name, age_group, gender, location, occupation, industry,
  job_title, company_size, role_description, interests, values_and_priorities,
  expertise, background, personality, decision_making_style, custom_attributes,
  additional_notes, description_by_ai.
- "new_query": the user poses a question or request that should be answered by
  a panel of personas. Copy the user's full original text into original_query
  verbatim.
- "general_conversation": anything else (greetings, small talk, meta questions).

Update intent takes priority over new-query intent. When you are not confident
about either, choose "general_conversation".`

// classificationSchema constrains the classifier output.
var classificationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"task_type": map[string]interface{}{
			"type": "string",
			"enum": []string{"update_persona", "new_query", "general_conversation"},
		},
		"persona_id_to_update": map[string]interface{}{
			"type": "string",
		},
		"persona_name_to_update": map[string]interface{}{
			"type": "string",
		},
		"update_attributes": map[string]interface{}{
			"type": "object",
		},
		"original_query": map[string]interface{}{
			"type": "string",
		},
	},
	"required": []string{"task_type"},
}

// =============================================================================
// ESTIMATION
// =============================================================================

const estimatorSystemPrompt = `You design panels of synthetic personas.
Given a user query, decide how many personas (between 1 and 7) would give the
most useful spread of perspectives, and describe each one as an attribute
profile.

Rules:
- persona_type is one of: business_professional, general_consumer,
  specific_role, custom.
- Fill in only the attributes that matter for each profile's persona_type.
  Do not pad irrelevant fields.
- Keep persona_count equal to the number of profiles.`

var estimationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"persona_count": map[string]interface{}{
			"type":    "integer",
			"minimum": 1,
			"maximum": 7,
		},
		"profiles": map[string]interface{}{
			"type":  "array",
			"items": profileSchema,
		},
	},
	"required": []string{"persona_count", "profiles"},
}

var profileSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"persona_type": map[string]interface{}{
			"type": "string",
			"enum": []string{"business_professional", "general_consumer", "specific_role", "custom"},
		},
		"name":                  map[string]interface{}{"type": "string"},
		"age_group":             map[string]interface{}{"type": "string"},
		"gender":                map[string]interface{}{"type": "string"},
		"location":              map[string]interface{}{"type": "string"},
		"occupation":            map[string]interface{}{"type": "string"},
		"industry":              map[string]interface{}{"type": "string"},
		"job_title":             map[string]interface{}{"type": "string"},
		"company_size":          map[string]interface{}{"type": "string"},
		"role_description":      map[string]interface{}{"type": "string"},
		"interests":             map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"values_and_priorities": map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		"decision_making_style": map[string]interface{}{"type": "string"},
		"additional_notes":      map[string]interface{}{"type": "string"},
	},
}

// buildShortfallPrompt asks for exactly n additional profiles that avoid
// duplicating the personas already on the panel. This call is deliberately
// softer than the estimation call: no response schema, JSON requested in the
// prompt text instead.
func buildShortfallPrompt(query string, needed int, existing []persona.Persona) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user asked:\n%s\n\n", query)

	if len(existing) > 0 {
		b.WriteString("These personas are already on the panel:\n")
		for _, p := range existing {
			fmt.Fprintf(&b, "- %s", p.Name)
			if p.Occupation != "" {
				fmt.Fprintf(&b, " (%s)", p.Occupation)
			}
			if p.DescriptionByAI != "" {
				fmt.Fprintf(&b, ": %s", summarize(p.DescriptionByAI, 120))
			}
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `Propose exactly %d additional persona profiles that complement the panel and do not duplicate anyone above.

Respond with a JSON array of profile objects. Each object may use these keys:
persona_type (business_professional | general_consumer | specific_role | custom),
name, age_group, gender, location, occupation, industry, job_title,
company_size, role_description, interests, values_and_priorities,
decision_making_style, additional_notes.

Return only the JSON array.`, needed)
	return b.String()
}

// =============================================================================
// PERSONA SYNTHESIS
// =============================================================================

// generatedShape is the fixed JSON shape every synthesis prompt requests.
const generatedShape = `{
  "name": "full name",
  "expertise": { "area": "what they know deeply" },
  "background": { "history": "how they got here" },
  "personality": { "traits": "temperament, communication style" },
  "decisionMakingStyle": "how they weigh choices",
  "descriptionByAi": "a 2-4 sentence narrative portrait"
}`

// buildSynthesisPrompt selects a template branch keyed by persona type and
// embeds only the attributes the caller supplied.
func buildSynthesisPrompt(profile persona.ProfileRequest) string {
	var intro string
	switch profile.PersonaType {
	case persona.TypeBusinessProfessional:
		intro = "Create a believable business professional persona. Ground their expertise and decision making in their industry and role."
	case persona.TypeGeneralConsumer:
		intro = "Create a believable everyday consumer persona. Ground their personality and decision making in their lifestyle, interests and priorities."
	case persona.TypeSpecificRole:
		intro = "Create a believable persona for a specific role. Stay close to the role description; their expertise must follow from it."
	default:
		intro = "Create a believable persona from the attributes below."
	}

	var b strings.Builder
	b.WriteString(intro)
	b.WriteString("\n\nKnown attributes:\n")
	for _, pair := range profile.PopulatedAttributes() {
		fmt.Fprintf(&b, "- %s: %s\n", pair.Label, pair.Value)
	}
	b.WriteString("\nRespond with exactly this JSON shape and nothing else:\n")
	b.WriteString(generatedShape)
	return b.String()
}

// =============================================================================
// RESPONDER
// =============================================================================

// buildResponderPrompt embeds every populated attribute in a fixed order
// plus the question, and asks for an in-character reply.
func buildResponderPrompt(p *persona.Persona, question string) string {
	var b strings.Builder
	b.WriteString("You are the person described below. Answer the question in the first person, as this person would, drawing on their background and priorities.\n\nYour profile:\n")
	for _, pair := range p.PopulatedAttributes() {
		fmt.Fprintf(&b, "- %s: %s\n", pair.Label, pair.Value)
	}
	fmt.Fprintf(&b, "\nQuestion:\n%s\n\nAnswer as this person. Do not mention that you are a persona.", question)
	return b.String()
}

// =============================================================================
// FINAL SYNTHESIS
// =============================================================================

const synthesisSystemPrompt = `You are the moderator of an expert persona panel.
You receive the user's original question and each panelist's answer (some may
have failed; their entries say so). Write one coherent reply for the user:
structure the arguments, point out agreements and disagreements, summarize the
takeaway, and suggest a follow-up question or two when useful. Do not invent
answers for panelists that failed; acknowledge gaps briefly if relevant.`

// buildSynthesisInput renders the fan-out results for the final call.
func buildSynthesisInput(query string, answers []PersonaAnswer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Original question:\n%s\n\nPanel answers:\n", query)
	for i, a := range answers {
		name := a.PersonaName
		if name == "" {
			name = fmt.Sprintf("Persona %d", i+1)
		}
		if a.Err != "" {
			fmt.Fprintf(&b, "\n[%s] (no answer: %s)\n", name, a.Err)
			continue
		}
		fmt.Fprintf(&b, "\n[%s]\n%s\n", name, a.Answer)
	}
	return b.String()
}

// =============================================================================
// UPDATE RESULT PHRASING
// =============================================================================

// buildUpdateReportPrompt asks the model to phrase a structured update result
// in natural language for the user.
func buildUpdateReportPrompt(result UpdateResult) string {
	var b strings.Builder
	b.WriteString("A persona update was attempted. Report the outcome to the user in one or two friendly sentences, in the language of the conversation.\n\nStructured result:\n")
	fmt.Fprintf(&b, "- status: %s\n", result.Status)
	if result.PersonaID != "" {
		fmt.Fprintf(&b, "- persona id: %s\n", result.PersonaID)
	}
	if result.PersonaName != "" {
		fmt.Fprintf(&b, "- persona name: %s\n", result.PersonaName)
	}
	if len(result.UpdatedFields) > 0 {
		fmt.Fprintf(&b, "- updated fields: %s\n", strings.Join(result.UpdatedFields, ", "))
	}
	if result.Message != "" {
		fmt.Fprintf(&b, "- detail: %s\n", result.Message)
	}
	return b.String()
}

func summarize(s string, max int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
