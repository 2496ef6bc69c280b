package compliance

import "sync"

// Judge decides the outcome of a registry policy evaluation. It is a
// closure built against the policy so it can read the registry and use
// the verdict constructors.
type Judge func(action string, payload, context map[string]any) Result

// RegistryPolicy evaluates actions against a mutable in-memory registry:
// approved vendors, counterparties with active NDAs, litigation hold
// scopes, department budgets. Membership changes at runtime through Add
// and Remove; evaluation logic lives in the judge closure.
type RegistryPolicy struct {
	*Core
	mu      sync.RWMutex
	members map[string]map[string]any
	judge   Judge
}

// NewRegistryPolicy returns a registry policy with an empty registry and
// no judge; it allows everything until SetJudge is called.
func NewRegistryPolicy(meta Meta) *RegistryPolicy {
	return &RegistryPolicy{
		Core:    NewCore(meta),
		members: make(map[string]map[string]any),
	}
}

// SetJudge installs the evaluation closure. Call once during catalog
// construction, before the policy is registered with an Engine.
func (p *RegistryPolicy) SetJudge(judge Judge) { p.judge = judge }

// Add inserts or replaces a registry entry. attrs may be nil for pure
// membership sets.
func (p *RegistryPolicy) Add(key string, attrs map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if attrs == nil {
		attrs = map[string]any{}
	}
	p.members[key] = attrs
}

// Remove deletes a registry entry.
func (p *RegistryPolicy) Remove(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.members, key)
}

// Has reports membership.
func (p *RegistryPolicy) Has(key string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.members[key]
	return ok
}

// Attrs returns a copy of an entry's attributes.
func (p *RegistryPolicy) Attrs(key string) (map[string]any, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	attrs, ok := p.members[key]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out, true
}

// Update atomically rewrites an entry's attributes. fn receives a copy of
// the current attributes (nil when the key is absent) and returns the
// replacement; returning nil deletes the entry.
func (p *RegistryPolicy) Update(key string, fn func(attrs map[string]any) map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var cur map[string]any
	if existing, ok := p.members[key]; ok {
		cur = make(map[string]any, len(existing))
		for k, v := range existing {
			cur[k] = v
		}
	}
	next := fn(cur)
	if next == nil {
		delete(p.members, key)
		return
	}
	p.members[key] = next
}

// Each calls fn for every entry until fn returns false. The registry lock
// is held for the duration; fn must not call back into the policy.
func (p *RegistryPolicy) Each(fn func(key string, attrs map[string]any) bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for key, attrs := range p.members {
		if !fn(key, attrs) {
			return
		}
	}
}

// Len returns the number of registry entries.
func (p *RegistryPolicy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.members)
}

// Evaluate delegates to the judge.
func (p *RegistryPolicy) Evaluate(action string, payload, context map[string]any) Result {
	if p.judge == nil {
		return p.Allow("no judge configured")
	}
	return p.judge(action, payload, context)
}
