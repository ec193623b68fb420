package action

import (
	"fmt"
	"sort"
	"sync"

	"github.com/nhle/inbox-triage/internal/classify"
	"github.com/nhle/inbox-triage/internal/model"
)

// Registry maps taxonomy pairs to handlers. It is filled at startup and
// read concurrently afterwards.
type Registry struct {
	mu       sync.RWMutex
	handlers map[model.Pair]namedHandler
}

type namedHandler struct {
	name string
	h    Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[model.Pair]namedHandler)}
}

// Register binds h to pair under name. Registering a pair twice is an error.
func (r *Registry) Register(pair model.Pair, name string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[pair]; ok {
		return fmt.Errorf("handler for %s already registered", pair)
	}
	r.handlers[pair] = namedHandler{name: name, h: h}
	return nil
}

// Lookup returns the handler and its name for pair.
func (r *Registry) Lookup(pair model.Pair) (Handler, string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nh, ok := r.handlers[pair]
	return nh.h, nh.name, ok
}

// Pairs returns the registered pairs sorted by name.
func (r *Registry) Pairs() []model.Pair {
	r.mu.RLock()
	defer r.mu.RUnlock()

	pairs := make([]model.Pair, 0, len(r.handlers))
	for p := range r.handlers {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs
}

// DefaultRegistry registers the built-in handlers for the pairs the
// taxonomy allows. With llm set the handlers are language model agents
// that get approved reviews as examples; without it they are rule based.
// Pairs without a built-in handler stay unregistered.
func DefaultRegistry(tax *model.Taxonomy, llm classify.Completer) (*Registry, error) {
	type builtin struct {
		pair model.Pair
		name string
		h    Handler
	}

	var (
		advertising = model.Pair{Category: "Other", Subcategory: "Advertising"}
		rest        = model.Pair{Category: "Other", Subcategory: "Rest"}
		jobSearch   = model.Pair{Category: "Review", Subcategory: "Job search"}
	)
	builtins := []builtin{
		{advertising, "advertising", HandlerFunc(Advertising)},
		{rest, "rest", HandlerFunc(Rest)},
		{jobSearch, "job_search", HandlerFunc(JobSearch)},
	}
	if llm != nil {
		builtins = builtins[:0]
		for pair, agent := range map[model.Pair]*Agent{
			advertising: NewAdvertisingAgent(llm),
			rest:        NewRestAgent(llm),
			jobSearch:   NewJobSearchAgent(llm),
		} {
			builtins = append(builtins, builtin{pair, agent.Name(), agent})
		}
	}

	r := NewRegistry()
	for _, b := range builtins {
		if tax != nil && !tax.Allows(b.pair) {
			continue
		}
		if err := r.Register(b.pair, b.name, b.h); err != nil {
			return nil, err
		}
	}
	return r, nil
}
