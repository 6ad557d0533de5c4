package orchestrator

import (
	"context"
	"strings"

	"github.com/onion-salad/persona-lens-sub000/internal/embedding"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
	"github.com/onion-salad/persona-lens-sub000/internal/store"
)

// Retriever wraps the persona store with attribute and keyword matching.
// It never returns an error: store failures and undecodable records degrade
// to an empty or smaller result set.
type Retriever struct {
	store  store.PersonaStore
	engine embedding.Engine // optional; nil disables reranking
}

// NewRetriever creates a retriever. The embedding engine may be nil.
func NewRetriever(st store.PersonaStore, engine embedding.Engine) *Retriever {
	return &Retriever{store: st, engine: engine}
}

// Search returns personas matching the free-text query or the desired
// attributes. String attributes match by substring, list attributes by any
// element overlap, and the free-text query by substring across the default
// textual fields, OR-combined.
func (r *Retriever) Search(ctx context.Context, query string, desired *persona.Attributes) []persona.Persona {
	var profiles []persona.ProfileRequest
	if desired != nil {
		profiles = append(profiles, *desired)
	}
	return r.SearchProfiles(ctx, query, profiles)
}

// SearchProfiles matches against criteria aggregated from every profile: a
// persona is returned when it matches the free-text query or any one of the
// profiles. When an embedding engine is configured the results are reranked
// by similarity to the query; reranking reorders only, it never adds or
// removes candidates.
func (r *Retriever) SearchProfiles(ctx context.Context, query string, profiles []persona.ProfileRequest) []persona.Persona {
	timer := logging.StartTimer(logging.CategoryStore, "Retriever.SearchProfiles")
	defer timer.Stop()

	candidates, err := r.store.Search(ctx, store.Filter{})
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Retriever store search failed, returning empty set: %v", err)
		return []persona.Persona{}
	}

	matched := make([]persona.Persona, 0, len(candidates))
	for _, p := range candidates {
		if matchesFreeText(&p, query) || matchesAnyProfile(&p, profiles) {
			matched = append(matched, p)
		}
	}

	logging.StoreDebug("Retriever matched %d of %d personas (query=%q, profiles=%d)",
		len(matched), len(candidates), summarize(query, 60), len(profiles))

	if r.engine != nil && query != "" && len(matched) > 1 {
		matched = r.rerank(ctx, query, matched)
	}
	return matched
}

// ResolveByName finds a persona by exact name. Used by the update path when
// the classifier extracted a name but no id.
func (r *Retriever) ResolveByName(ctx context.Context, name string) (*persona.Persona, bool) {
	results, err := r.store.Search(ctx, store.Filter{NameEquals: name})
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("Retriever name resolution failed: %v", err)
		return nil, false
	}
	if len(results) == 0 {
		return nil, false
	}
	if len(results) > 1 {
		logging.Get(logging.CategoryStore).Warn("Name %q matches %d personas, using the oldest", name, len(results))
	}
	return &results[0], true
}

// rerank orders matches by embedding similarity to the query. Any embedding
// failure leaves store order intact.
func (r *Retriever) rerank(ctx context.Context, query string, matches []persona.Persona) []persona.Persona {
	queryVec, err := r.engine.Embed(ctx, query)
	if err != nil {
		logging.Get(logging.CategoryEmbedding).Warn("Query embedding failed, keeping store order: %v", err)
		return matches
	}

	texts := make([]string, len(matches))
	for i, p := range matches {
		texts[i] = personaText(&p)
	}
	corpus, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil || len(corpus) != len(matches) {
		logging.Get(logging.CategoryEmbedding).Warn("Candidate embedding failed, keeping store order: %v", err)
		return matches
	}

	ranked := embedding.RankAll(queryVec, corpus)
	out := make([]persona.Persona, 0, len(matches))
	for _, res := range ranked {
		out = append(out, matches[res.Index])
	}
	return out
}

// personaText renders a persona for embedding.
func personaText(p *persona.Persona) string {
	var parts []string
	for _, pair := range p.PopulatedAttributes() {
		parts = append(parts, pair.Label+": "+pair.Value)
	}
	return strings.Join(parts, "\n")
}

// freeTextFields are the default fields a free-text query searches.
func freeTextFields(p *persona.Persona) []string {
	return []string{
		p.Name,
		p.DescriptionByAI,
		p.Occupation,
		p.Industry,
		p.JobTitle,
		p.RoleDescription,
	}
}

func matchesFreeText(p *persona.Persona, query string) bool {
	query = strings.TrimSpace(query)
	if query == "" {
		return false
	}
	for _, field := range freeTextFields(p) {
		if containsFold(field, query) {
			return true
		}
	}
	return false
}

func matchesAnyProfile(p *persona.Persona, profiles []persona.ProfileRequest) bool {
	for i := range profiles {
		if matchesProfile(p, &profiles[i]) {
			return true
		}
	}
	return false
}

// matchesProfile checks every constraint the profile carries; constraints
// are AND-combined within one profile. A profile with no usable constraints
// matches nothing.
func matchesProfile(p *persona.Persona, desired *persona.ProfileRequest) bool {
	constrained := false

	stringPairs := []struct{ have, want string }{
		{p.Name, desired.Name},
		{p.AgeGroup, desired.AgeGroup},
		{p.Gender, desired.Gender},
		{p.Location, desired.Location},
		{p.Occupation, desired.Occupation},
		{p.Industry, desired.Industry},
		{p.JobTitle, desired.JobTitle},
		{p.CompanySize, desired.CompanySize},
		{p.RoleDescription, desired.RoleDescription},
		{p.DecisionMakingStyle, desired.DecisionMakingStyle},
		{p.DescriptionByAI, desired.DescriptionByAI},
	}
	for _, pair := range stringPairs {
		if pair.want == "" {
			continue
		}
		constrained = true
		if !containsFold(pair.have, pair.want) {
			return false
		}
	}

	if len(desired.Interests) > 0 {
		constrained = true
		if !anyOverlap(p.Interests, desired.Interests) {
			return false
		}
	}
	if len(desired.ValuesAndPriorities) > 0 {
		constrained = true
		if !anyOverlap(p.ValuesAndPriorities, desired.ValuesAndPriorities) {
			return false
		}
	}

	// persona_type only constrains alongside other criteria; on its own it
	// would sweep in every persona of a common type.
	if constrained && desired.PersonaType != "" && desired.PersonaType != persona.TypeCustom {
		if p.PersonaType != desired.PersonaType {
			return false
		}
	}

	return constrained
}

func containsFold(haystack, needle string) bool {
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func anyOverlap(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if containsFold(h, w) || containsFold(w, h) {
				return true
			}
		}
	}
	return false
}
