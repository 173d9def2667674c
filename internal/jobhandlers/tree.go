// Package jobhandlers holds the three illustrative job handlers named in
// spec.md §3 (§10.4): tree_generation, flashcard_generation, and
// distractor_generation. Per spec.md §1, the engine only specifies a
// handler's interface with the core (handle(payload, job) -> result); the
// bodies here are deliberately thin, each validating its own payload
// shape and delegating text generation to internal/genclient.
package jobhandlers

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/cascade"
	"github.com/corwinhq/taskforge/internal/domain"
	"github.com/corwinhq/taskforge/internal/genclient"
	"github.com/corwinhq/taskforge/internal/platform/logger"
)

const (
	TypeTreeGeneration       = "tree_generation"
	TypeFlashcardGeneration  = "flashcard_generation"
	TypeDistractorGeneration = "distractor_generation"
)

type treePayload struct {
	Topic string `json:"topic"`
}

type treeNode struct {
	Label string     `json:"label"`
	Children []treeNode `json:"children"`
}

type treeResult struct {
	Root treeNode `json:"root"`
}

// TreeHandler builds a topic tree via genclient and cascades one
// flashcard_generation child per leaf node (spec.md §4.7/S5's bulk-cascade
// idiom), using cascade.Coordinator.EnqueueBulk so a single rate-limited
// or policy-rejected child does not prevent the rest from being enqueued.
type TreeHandler struct {
	gen     genclient.Client
	cascade *cascade.Coordinator
	log     *logger.Logger
}

func NewTreeHandler(gen genclient.Client, coordinator *cascade.Coordinator, baseLog *logger.Logger) *TreeHandler {
	return &TreeHandler{gen: gen, cascade: coordinator, log: baseLog.With("component", "TreeHandler")}
}

func (h *TreeHandler) Handle(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error) {
	var in treePayload
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("tree_generation: invalid payload: %w", err)
	}
	if in.Topic == "" {
		return nil, fmt.Errorf("tree_generation: topic is required")
	}

	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"root": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"label":    map[string]any{"type": "string"},
					"children": map[string]any{"type": "array"},
				},
				"required": []string{"label", "children"},
			},
		},
		"required": []string{"root"},
	}
	raw, err := h.gen.GenerateJSON(ctx,
		"Decompose the given topic into a shallow study tree of subtopics.",
		fmt.Sprintf("Topic: %s", in.Topic),
		"topic_tree", schema)
	if err != nil {
		return nil, fmt.Errorf("tree_generation: generation failed: %w", err)
	}

	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("tree_generation: marshal result: %w", err)
	}
	var result treeResult
	if err := json.Unmarshal(encoded, &result); err != nil {
		return nil, fmt.Errorf("tree_generation: unexpected model output shape: %w", err)
	}

	leaves := collectLeaves(result.Root)
	childPayloads := make([]datatypes.JSON, 0, len(leaves))
	for _, leaf := range leaves {
		p, err := json.Marshal(map[string]string{"topic": leaf})
		if err != nil {
			continue
		}
		childPayloads = append(childPayloads, datatypes.JSON(p))
	}

	enqueued, skipped := h.cascade.EnqueueBulk(ctx, job.PrincipalID, TypeTreeGeneration, TypeFlashcardGeneration, childPayloads, job.Priority)
	if skipped > 0 {
		h.log.Info("tree_generation: some flashcard children were skipped", "job_id", job.ID.String(), "skipped", skipped, "enqueued", len(enqueued))
	}

	return datatypes.JSON(encoded), nil
}

func collectLeaves(n treeNode) []string {
	if len(n.Children) == 0 {
		return []string{n.Label}
	}
	var leaves []string
	for _, child := range n.Children {
		leaves = append(leaves, collectLeaves(child)...)
	}
	return leaves
}
