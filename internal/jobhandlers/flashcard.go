package jobhandlers

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/genclient"
)

type flashcardPayload struct {
	Topic string `json:"topic"`
}

type flashcardResult struct {
	Cards []flashcard `json:"cards"`
}

type flashcard struct {
	Front string `json:"front"`
	Back  string `json:"back"`
}

// FlashcardHandler generates a small set of front/back study cards for a
// leaf topic. It has no children to cascade (distractor_generation is
// triggered separately, by request, not automatically per card; the
// engine imposes no cascade depth cap, and each handler decides for
// itself whether to cascade).
type FlashcardHandler struct {
	gen genclient.Client
}

func NewFlashcardHandler(gen genclient.Client) *FlashcardHandler {
	return &FlashcardHandler{gen: gen}
}

func (h *FlashcardHandler) Handle(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error) {
	var in flashcardPayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("flashcard_generation: invalid payload: %w", err)
	}
	if in.Topic == "" {
		return nil, fmt.Errorf("flashcard_generation: topic is required")
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"cards": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"front": map[string]any{"type": "string"},
						"back":  map[string]any{"type": "string"},
					},
					"required": []string{"front", "back"},
				},
			},
		},
		"required": []string{"cards"},
	}
	raw, err := h.gen.GenerateJSON(ctx,
		"Write concise front/back study flashcards for the given topic.",
		fmt.Sprintf("Topic: %s", in.Topic),
		"flashcard_set", schema)
	if err != nil {
		return nil, fmt.Errorf("flashcard_generation: generation failed: %w", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("flashcard_generation: marshal result: %w", err)
	}
	var result flashcardResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, fmt.Errorf("flashcard_generation: unexpected model output shape: %w", err)
	}
	if len(result.Cards) == 0 {
		return nil, fmt.Errorf("flashcard_generation: model returned no cards")
	}

	return datatypes.JSON(encoded), nil
}
