package jobhandlers

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/genclient"
)

type distractorPayload struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

type distractorResult struct {
	Distractors []string `json:"distractors"`
}

// DistractorHandler generates plausible-but-wrong answer choices for one
// flashcard, for multiple-choice presentation. A standalone type rather
// than a step of flashcard_generation because a caller may want to
// (re)generate distractors for a card independently, e.g. after editing
// its back text.
type DistractorHandler struct {
	gen genclient.Client
}

func NewDistractorHandler(gen genclient.Client) *DistractorHandler {
	return &DistractorHandler{gen: gen}
}

func (h *DistractorHandler) Handle(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error) {
	var in distractorPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("distractor_generation: invalid payload: %w", err)
	}
	if in.Front == "" || in.Back == "" {
		return nil, fmt.Errorf("distractor_generation: front and back are required")
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"distractors": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
		},
		"required": []string{"distractors"},
	}
	raw, err := h.gen.GenerateJSON(ctx,
		"Write plausible but incorrect multiple-choice distractors for a flashcard answer.",
		fmt.Sprintf("Question: %s\nCorrect answer: %s", in.Front, in.Back),
		"distractor_set", schema)
	if err != nil {
		return nil, fmt.Errorf("distractor_generation: generation failed: %w", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("distractor_generation: marshal result: %w", err)
	}
	var result distractorResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, fmt.Errorf("distractor_generation: unexpected model output shape: %w", err)
	}
	if len(result.Distractors) == 0 {
		return nil, fmt.Errorf("distractor_generation: model returned no distractors")
	}

	return datatypes.JSON(encoded), nil
}
