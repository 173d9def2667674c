package registry

import (
	"context"
	"fmt"
	"sync"

	"gorm.io/datatypes"

	"github.com/corwinhq/taskforge/internal/domain"
)

/*
The handler registry is the dispatch table for the job execution engine.

Purpose:
	- Map a job's type string to a concrete handler function
	- Enforce a one-to-one relationship between type and handler
	- Provide a safe, concurrent lookup mechanism for dispatchers

Idea:
	The registry is the *only* place where job-type -> code binding happens.
	Dispatchers do not know about handler implementations directly; they only
	ask the registry for the function responsible for a given type.

Indirection is intentional:
	- It decouples scheduling from business logic
	- It allows different dispatch paths (HTTP-triggered, worker-pool,
	  tests) to reuse the same handler set
	- It makes misconfiguration (missing or duplicate handlers) explicit
	  and fatal at registration time rather than discovered at dispatch time
*/

// Handler is the user-supplied function associated with one job type. It
// consumes the job's payload and the job snapshot, and returns a result or
// an error.
//
// Handlers must be side-effect safe under retries: the engine does not
// guarantee exactly-once invocation, only at-least-once, so a handler
// re-run after a partial prior attempt must not duplicate externally
// visible effects (see the lease-timeout note in the dispatcher).
type Handler func(ctx context.Context, payload datatypes.JSON, job *domain.Job) (datatypes.JSON, error)

// Entry binds a Handler to its type tag and an optional max-attempts
// override; MaxAttempts of 0 means "use the dispatcher's default".
type Entry struct {
	Type        string
	Fn          Handler
	MaxAttempts int
}

/*
Registry is a concurrency-safe map of job type -> handler entry.

Invariants:
	- At most one entry may be registered per type
	- Registration is expected to happen at process startup
	- Lookups may happen concurrently from many dispatch goroutines
*/
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New constructs an empty handler registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

/*
Register adds an entry to the registry.

Safety checks:
	- fn must not be nil
	- jobType must be non-empty
	- no other handler may already be registered for the same type

Why duplicate registration is forbidden: type ambiguity would make
dispatch non-deterministic, and is almost always a wiring error. Failing
fast at startup is better than silently picking one.
*/
func (r *Registry) Register(jobType string, fn Handler, maxAttempts int) error {
	if fn == nil {
		return fmt.Errorf("registry: nil handler for job type %q", jobType)
	}
	if jobType == "" {
		return fmt.Errorf("registry: empty job type")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[jobType]; exists {
		return fmt.Errorf("registry: handler already registered for job type %q", jobType)
	}
	r.entries[jobType] = Entry{Type: jobType, Fn: fn, MaxAttempts: maxAttempts}
	return nil
}

// Lookup retrieves the entry responsible for jobType.
//
// A miss is a fatal, non-retryable condition for the calling job: it
// indicates a deployment or wiring issue, not a transient failure.
func (r *Registry) Lookup(jobType string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[jobType]
	return e, ok
}

// KnownType reports whether jobType has a registered handler, used by
// Intake to validate enqueue requests before ever touching the store.
func (r *Registry) KnownType(jobType string) bool {
	_, ok := r.Lookup(jobType)
	return ok
}
