// Package orchestrator implements the persona panel pipeline: intent
// classification, attribute estimation, persona retrieval and synthesis,
// the concurrent responder fan-out, and the controller state machine that
// drives them. Every branching decision is made here from structured
// generator output; the generator itself never chooses control flow.
package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/onion-salad/persona-lens-sub000/internal/generation"
	"github.com/onion-salad/persona-lens-sub000/internal/logging"
)

// TaskType is the shape of work the classifier selected.
type TaskType string

const (
	TaskUpdatePersona       TaskType = "update_persona"
	TaskNewQuery            TaskType = "new_query"
	TaskGeneralConversation TaskType = "general_conversation"
)

// ErrClassificationFailed marks a classifier call whose output could not be
// parsed. This is the single hard-stop error of the pipeline: no retry, the
// request fails.
var ErrClassificationFailed = errors.New("classification failed")

// TaskClassification is the transient result of one classifier call. It
// lives only for the duration of one orchestration run.
type TaskClassification struct {
	TaskType            TaskType               `json:"task_type"`
	PersonaIDToUpdate   string                 `json:"persona_id_to_update,omitempty"`
	PersonaNameToUpdate string                 `json:"persona_name_to_update,omitempty"`
	UpdateAttributes    map[string]interface{} `json:"update_attributes,omitempty"`
	OriginalQuery       string                 `json:"original_query,omitempty"`
}

// Classifier turns a raw user message into a TaskClassification.
type Classifier struct {
	gen generation.Client
}

// NewClassifier creates an intent classifier backed by the given generator.
func NewClassifier(gen generation.Client) *Classifier {
	return &Classifier{gen: gen}
}

// Classify routes the user message to one of the three task shapes. Update
// intent wins over new-query intent; anything uncertain falls through to
// general conversation. A parse failure is fatal for the request.
func (c *Classifier) Classify(ctx context.Context, userMessage string) (*TaskClassification, error) {
	timer := logging.StartTimer(logging.CategoryClassifier, "Classify")
	defer timer.Stop()

	raw, err := c.gen.CompleteWithSchema(ctx, classifierSystemPrompt, userMessage, classificationSchema)
	if err != nil {
		logging.Get(logging.CategoryClassifier).Error("Classifier generation failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}

	var result TaskClassification
	if err := generation.ParseObject(raw, &result); err != nil {
		logging.Get(logging.CategoryClassifier).Error("Classifier output unparsable: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrClassificationFailed, err)
	}

	switch result.TaskType {
	case TaskUpdatePersona, TaskNewQuery, TaskGeneralConversation:
	default:
		logging.Get(logging.CategoryClassifier).Warn("Unknown task_type %q, falling back to general_conversation", result.TaskType)
		result.TaskType = TaskGeneralConversation
	}

	// Id wins when the model extracted both target references.
	if result.PersonaIDToUpdate != "" && result.PersonaNameToUpdate != "" {
		result.PersonaNameToUpdate = ""
	}

	// Downstream reuses the full original text when the model omitted it.
	if result.TaskType == TaskNewQuery && result.OriginalQuery == "" {
		result.OriginalQuery = userMessage
	}

	logging.Get(logging.CategoryClassifier).Info("Classified message as %s (id=%q name=%q attrs=%d)",
		result.TaskType, result.PersonaIDToUpdate, result.PersonaNameToUpdate, len(result.UpdateAttributes))
	return &result, nil
}
