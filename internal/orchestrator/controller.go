package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
	"github.com/onion-salad/persona-lens-sub000/internal/persona"
)

// =============================================================================
// STATES
// =============================================================================

// State names one phase of an orchestration run.
type State string

const (
	StateClassifying         State = "classifying"
	StateUpdatingPersona     State = "updating_persona"
	StateEstimatingPersonas  State = "estimating_personas"
	StateGeneralConversation State = "general_conversation"
	StateResponding          State = "responding"
	StateSynthesizing        State = "synthesizing"
	StateDone                State = "done"
	StateError               State = "error"
)

// =============================================================================
// RESULTS
// =============================================================================

// ResultType tags the envelope returned to the HTTP layer.
type ResultType string

const (
	ResultOrchestratorFinal   ResultType = "orchestrator_final_response"
	ResultPersonaUpdate       ResultType = "persona_update_result"
	ResultGeneralConversation ResultType = "general_conversation_response"
	ResultError               ResultType = "error"
)

// PersonaResponse is one panelist's entry in the final response. Exactly one
// of ResponseText or Error is set.
type PersonaResponse struct {
	PersonaID    string             `json:"personaId"`
	PersonaName  string             `json:"personaName,omitempty"`
	Attributes   persona.Attributes `json:"attributes"`
	ResponseText string             `json:"responseText,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// Result is the outcome of one orchestration run. Which fields are populated
// depends on Type.
type Result struct {
	Type                ResultType        `json:"type"`
	OrchestratorMessage string            `json:"orchestrator_message,omitempty"`
	UserQuery           string            `json:"user_query,omitempty"`
	PersonaResponses    []PersonaResponse `json:"persona_responses,omitempty"`
	Data                *UpdateResult     `json:"data,omitempty"`
	Message             string            `json:"message,omitempty"`
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller sequences the pipeline components and makes every branching
// decision from their structured output. Errors returned from Run are fatal
// for the request (the HTTP layer maps them to 500); everything recoverable
// becomes a Result the user can read.
type Controller struct {
	gen         generation.Client
	classifier  *Classifier
	estimator   *Estimator
	retriever   *Retriever
	synthesizer *Synthesizer
	updater     *Updater
	responder   *Responder
}

// NewController wires a controller from its components.
func NewController(gen generation.Client, classifier *Classifier, estimator *Estimator,
	retriever *Retriever, synthesizer *Synthesizer, updater *Updater, responder *Responder) *Controller {
	return &Controller{
		gen:         gen,
		classifier:  classifier,
		estimator:   estimator,
		retriever:   retriever,
		synthesizer: synthesizer,
		updater:     updater,
		responder:   responder,
	}
}

const apologyMessage = "I'm sorry, I couldn't work out which perspectives would help with this request. Could you describe what you'd like to explore a little more specifically?"

// Run executes one orchestration for the given user message.
func (c *Controller) Run(ctx context.Context, userMessage string) (*Result, error) {
	run := &runState{current: StateClassifying}
	run.log("run started: %s", summarize(userMessage, 100))

	classification, err := c.classifier.Classify(ctx, userMessage)
	if err != nil {
		run.transition(StateError)
		return nil, err
	}

	switch classification.TaskType {
	case TaskUpdatePersona:
		run.transition(StateUpdatingPersona)
		return c.runUpdate(ctx, run, classification)
	case TaskNewQuery:
		run.transition(StateEstimatingPersonas)
		return c.runNewQuery(ctx, run, classification.OriginalQuery)
	default:
		run.transition(StateGeneralConversation)
		return c.runGeneralConversation(ctx, run, userMessage)
	}
}

// =============================================================================
// NEW QUERY PATH
// =============================================================================

func (c *Controller) runNewQuery(ctx context.Context, run *runState, query string) (*Result, error) {
	estimation, err := c.estimator.Estimate(ctx, query)
	if err != nil {
		if errors.Is(err, ErrEstimationEmpty) {
			run.transition(StateDone)
			return &Result{
				Type:                ResultOrchestratorFinal,
				OrchestratorMessage: apologyMessage,
				UserQuery:           query,
				PersonaResponses:    []PersonaResponse{},
			}, nil
		}
		run.transition(StateError)
		return nil, err
	}

	// Criteria from every estimated profile drive retrieval, not just the
	// first one.
	found := c.retriever.SearchProfiles(ctx, query, estimation.Profiles)
	run.log("retrieval found %d existing personas for %d estimated profiles", len(found), estimation.PersonaCount)

	ids := make([]string, 0, estimation.PersonaCount)
	for _, p := range found {
		ids = append(ids, p.ID)
	}
	if len(ids) > estimation.PersonaCount {
		ids = ids[:estimation.PersonaCount]
	}

	needed := estimation.PersonaCount - len(ids)
	if needed > 0 {
		newIDs, err := c.createShortfall(ctx, query, needed, found)
		if err != nil {
			run.transition(StateError)
			return nil, err
		}
		ids = appendUnique(ids, newIDs)
	}

	if len(ids) == 0 {
		run.transition(StateDone)
		return &Result{
			Type:                ResultOrchestratorFinal,
			OrchestratorMessage: apologyMessage,
			UserQuery:           query,
			PersonaResponses:    []PersonaResponse{},
		}, nil
	}

	run.transition(StateResponding)
	answers := c.fanOut(ctx, ids, query)

	run.transition(StateSynthesizing)
	finalMessage, err := c.gen.CompleteWithSystem(ctx, synthesisSystemPrompt, buildSynthesisInput(query, answers))
	if err != nil {
		run.transition(StateError)
		return nil, fmt.Errorf("final synthesis failed: %w", err)
	}

	responses := make([]PersonaResponse, len(answers))
	for i, a := range answers {
		responses[i] = PersonaResponse{
			PersonaID:    a.PersonaID,
			PersonaName:  a.PersonaName,
			Attributes:   a.Attributes,
			ResponseText: a.Answer,
			Error:        a.Err,
		}
	}

	run.transition(StateDone)
	return &Result{
		Type:                ResultOrchestratorFinal,
		OrchestratorMessage: strings.TrimSpace(finalMessage),
		UserQuery:           query,
		PersonaResponses:    responses,
	}, nil
}

// createShortfall asks the generator for the missing profiles and hands them
// to the synthesizer. The profile request uses a plain prompt rather than a
// response schema; its output still has to parse, and a failure aborts the
// request like any other creation failure.
func (c *Controller) createShortfall(ctx context.Context, query string, needed int, existing []persona.Persona) ([]string, error) {
	logging.Orchestrator("Creating %d personas to cover panel shortfall", needed)

	raw, err := c.gen.Complete(ctx, buildShortfallPrompt(query, needed, existing))
	if err != nil {
		return nil, fmt.Errorf("shortfall profile generation failed: %w", err)
	}

	var profiles []persona.ProfileRequest
	if err := generation.ParseObject(raw, &profiles); err != nil {
		return nil, fmt.Errorf("shortfall profiles unparsable: %w", err)
	}
	if len(profiles) > needed {
		profiles = profiles[:needed]
	}
	if len(profiles) == 0 {
		logging.Get(logging.CategoryOrchestrator).Warn("Shortfall prompt returned no profiles, continuing with found personas only")
		return nil, nil
	}

	return c.synthesizer.Synthesize(ctx, profiles)
}

// fanOut asks every persona the same question concurrently. Results align
// with ids by index and the call returns only after every entry has settled;
// one persona's failure becomes its error entry, never the batch's.
func (c *Controller) fanOut(ctx context.Context, ids []string, question string) []PersonaAnswer {
	logging.Orchestrator("Fanning out question to %d personas", len(ids))

	answers := make([]PersonaAnswer, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			answer, err := c.responder.Respond(gctx, id, question)
			if err != nil {
				logging.Get(logging.CategoryOrchestrator).Warn("Responder failed for persona %s: %v", id, err)
				answers[i] = PersonaAnswer{PersonaID: id, Err: err.Error()}
				return nil
			}
			answers[i] = *answer
			return nil
		})
	}
	// Goroutines never return errors; Wait is purely the barrier.
	_ = g.Wait()

	return answers
}

// =============================================================================
// UPDATE PATH
// =============================================================================

func (c *Controller) runUpdate(ctx context.Context, run *runState, classification *TaskClassification) (*Result, error) {
	targetID := classification.PersonaIDToUpdate
	targetName := classification.PersonaNameToUpdate

	if targetID == "" {
		if targetName == "" {
			run.transition(StateDone)
			return &Result{
				Type:    ResultError,
				Message: "I couldn't tell which persona you want to update. Please give its name or id.",
			}, nil
		}
		resolved, ok := c.retriever.ResolveByName(ctx, targetName)
		if !ok {
			run.transition(StateDone)
			return &Result{
				Type:    ResultError,
				Message: fmt.Sprintf("A persona named %q was not found. Please check the name and try again.", targetName),
			}, nil
		}
		targetID = resolved.ID
	}

	if len(classification.UpdateAttributes) == 0 {
		run.transition(StateDone)
		return &Result{
			Type:    ResultError,
			Message: "I couldn't find any concrete changes in your message. Please say which attribute to change and to what.",
		}, nil
	}

	updateResult := c.updater.Update(ctx, targetID, classification.UpdateAttributes, false)
	message := c.phraseUpdateResult(ctx, updateResult)

	run.transition(StateDone)
	return &Result{
		Type:    ResultPersonaUpdate,
		Data:    &updateResult,
		Message: message,
	}, nil
}

// phraseUpdateResult turns the structured update outcome into a sentence for
// the user. The phrasing call is best-effort; on failure a plain rendering
// of the structured result is used.
func (c *Controller) phraseUpdateResult(ctx context.Context, result UpdateResult) string {
	message, err := c.gen.Complete(ctx, buildUpdateReportPrompt(result))
	if err == nil && strings.TrimSpace(message) != "" {
		return strings.TrimSpace(message)
	}
	logging.Get(logging.CategoryOrchestrator).Warn("Update report phrasing failed, using plain rendering: %v", err)

	if result.Status == "success" {
		return fmt.Sprintf("Persona %s was updated (%s).", result.PersonaName, strings.Join(result.UpdatedFields, ", "))
	}
	return fmt.Sprintf("The persona update failed: %s", result.Message)
}

// =============================================================================
// GENERAL CONVERSATION PATH
// =============================================================================

func (c *Controller) runGeneralConversation(ctx context.Context, run *runState, userMessage string) (*Result, error) {
	reply, err := c.gen.Complete(ctx, userMessage)
	if err != nil {
		run.transition(StateError)
		return nil, fmt.Errorf("conversation reply failed: %w", err)
	}

	run.transition(StateDone)
	return &Result{
		Type:    ResultGeneralConversation,
		Message: strings.TrimSpace(reply),
	}, nil
}

// =============================================================================
// RUN STATE
// =============================================================================

// runState tracks the state machine for one run, for logging and tests.
type runState struct {
	current State
	history []State
}

func (r *runState) transition(next State) {
	logging.OrchestratorDebug("state %s -> %s", r.current, next)
	r.history = append(r.history, r.current)
	r.current = next
}

func (r *runState) log(format string, args ...interface{}) {
	logging.Orchestrator("["+string(r.current)+"] "+format, args...)
}

// appendUnique unions two id lists preserving dispatch order: found ids
// first, then new ids, each id at most once.
func appendUnique(ids []string, more []string) []string {
	seen := make(map[string]struct{}, len(ids)+len(more))
	for _, id := range ids {
		seen[id] = struct{}{}
	}
	for _, id := range more {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}
