// This file supplements §4.7 with a declarative cascade policy document
// (spec.md §10.3, a supplemented feature): a YAML description of which
// parent job types are permitted to cascade into which child types.
// Directly modeled on the teacher's
// internal/jobs/pipeline/learning_build/spec.go: go:embed default +
// environment-variable path override + sync.Once-cached runtime +
// fallback graph when the document is absent or invalid +
// validate-before-cache discipline (duplicate edges and cycles rejected).
//
// This policy is advisory, not enforced by the dispatcher: per §4.7 "the
// engine imposes no cap" on cascade. Only Coordinator.Enqueue consults it
// (via Policy.Allowed), on behalf of the example handlers (§10.4) that
// cascade through the Coordinator, so a deployment can decline to wire
// cascade restrictions at all and the engine behaves identically.
package cascade

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

//go:embed cascade_policy.yaml
var defaultPolicyFS embed.FS

const cascadePolicyEnv = "CASCADE_POLICY_YAML"

var fallbackEdges = map[string][]string{
	"tree_generation":      {"flashcard_generation"},
	"flashcard_generation": {"distractor_generation"},
}

type yamlCascadePolicy struct {
	Policy  string     `yaml:"policy"`
	Version int        `yaml:"version"`
	Edges   []yamlEdge `yaml:"edges"`
}

type yamlEdge struct {
	Parent  string `yaml:"parent"`
	Child   string `yaml:"child"`
	Enabled *bool  `yaml:"enabled"`
}

// Policy is the validated, queryable form of the cascade document: a
// parent job type mapped to the set of child types it may enqueue.
type Policy struct {
	allowed map[string]map[string]bool
}

// Allowed reports whether parentType may cascade-enqueue childType. A
// policy with no entry for parentType allows nothing for it; callers that
// never load a policy at all should not call Allowed, and should instead
// treat cascade as globally unrestricted per §4.7.
func (p *Policy) Allowed(parentType, childType string) bool {
	if p == nil {
		return true
	}
	children, ok := p.allowed[parentType]
	if !ok {
		return false
	}
	return children[childType]
}

var (
	policyOnce  sync.Once
	policyCache *Policy
	policyErr   error
)

// LoadPolicy loads and validates the cascade policy document once per
// process, caching the result. On load or validation failure it falls
// back to fallbackEdges and logs the reason, matching the teacher's
// degrade-to-fallback-never-crash discipline for declarative specs.
func LoadPolicy(overridePath string, baseLog *logger.Logger) *Policy {
	policyOnce.Do(func() {
		policyCache, policyErr = loadAndValidate(overridePath)
	})
	if policyErr != nil {
		if baseLog != nil {
			baseLog.Warn("cascade policy load failed; using fallback graph", "error", policyErr)
		}
		return fallbackPolicy()
	}
	return policyCache
}

func fallbackPolicy() *Policy {
	allowed := make(map[string]map[string]bool, len(fallbackEdges))
	for parent, children := range fallbackEdges {
		set := make(map[string]bool, len(children))
		for _, c := range children {
			set[c] = true
		}
		allowed[parent] = set
	}
	return &Policy{allowed: allowed}
}

func loadAndValidate(overridePath string) (*Policy, error) {
	data, err := readPolicyDoc(overridePath)
	if err != nil {
		return nil, err
	}

	var doc yamlCascadePolicy
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if err := validatePolicyDoc(&doc); err != nil {
		return nil, err
	}

	allowed := make(map[string]map[string]bool)
	for _, edge := range doc.Edges {
		if edge.Enabled != nil && !*edge.Enabled {
			continue
		}
		set, ok := allowed[edge.Parent]
		if !ok {
			set = make(map[string]bool)
			allowed[edge.Parent] = set
		}
		set[edge.Child] = true
	}
	return &Policy{allowed: allowed}, nil
}

func readPolicyDoc(overridePath string) ([]byte, error) {
	path := strings.TrimSpace(overridePath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(cascadePolicyEnv))
	}
	if path != "" {
		return os.ReadFile(path)
	}
	return defaultPolicyFS.ReadFile("cascade_policy.yaml")
}

func validatePolicyDoc(doc *yamlCascadePolicy) error {
	if doc == nil {
		return errors.New("missing cascade policy document")
	}
	if strings.TrimSpace(doc.Policy) != "cascade" {
		return fmt.Errorf("unexpected policy document name: %s", doc.Policy)
	}
	if len(doc.Edges) == 0 {
		return errors.New("cascade policy defines no edges")
	}

	seen := map[string]bool{}
	adjacency := map[string][]string{}
	for _, edge := range doc.Edges {
		parent := strings.TrimSpace(edge.Parent)
		child := strings.TrimSpace(edge.Child)
		if parent == "" || child == "" {
			return errors.New("cascade edge requires both parent and child")
		}
		key := parent + "->" + child
		if seen[key] {
			return fmt.Errorf("duplicate cascade edge: %s -> %s", parent, child)
		}
		seen[key] = true
		if edge.Enabled != nil && !*edge.Enabled {
			continue
		}
		adjacency[parent] = append(adjacency[parent], child)
	}

	if cycle := findCycle(adjacency); cycle != "" {
		return fmt.Errorf("cascade policy contains a cycle: %s", cycle)
	}
	return nil
}

// findCycle runs a straightforward DFS with a recursion-stack marker,
// returning a human-readable description of the first cycle found, or ""
// if the graph is acyclic.
func findCycle(adjacency map[string][]string) string {
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	state := map[string]int{}

	var visit func(node string, path []string) string
	visit = func(node string, path []string) string {
		state[node] = visiting
		path = append(path, node)
		for _, next := range adjacency[node] {
			switch state[next] {
			case visiting:
				return strings.Join(append(path, next), " -> ")
			case unvisited:
				if cyc := visit(next, path); cyc != "" {
					return cyc
				}
			}
		}
		state[node] = done
		return ""
	}

	for node := range adjacency {
		if state[node] == unvisited {
			if cyc := visit(node, nil); cyc != "" {
				return cyc
			}
		}
	}
	return ""
}
