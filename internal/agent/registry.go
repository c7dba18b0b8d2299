// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package agent

import "fmt"

// GreeterKey is the registered key of the default agent every new session
// starts with (§4.6 step 1: "the initial default is the registered
// greeter agent").
const GreeterKey = "greeter"

// Registry maps agent keys to Specs, populated from declarative config at
// process start and immutable at runtime (§4.6, §9: "new agents register
// via config, not subclassing").
type Registry struct {
	specs map[string]*Spec
	order []string
}

// NewRegistry builds an immutable Registry from the given specs. A
// missing GreeterKey is a config error — every bridge needs a fallback
// agent to select before the intent classifier has anything to go on.
func NewRegistry(specs []*Spec) (*Registry, error) {
	r := &Registry{specs: make(map[string]*Spec, len(specs))}
	for _, s := range specs {
		if _, dup := r.specs[s.Key]; dup {
			return nil, fmt.Errorf("duplicate agent key %q", s.Key)
		}
		r.specs[s.Key] = s
		r.order = append(r.order, s.Key)
	}
	if _, ok := r.specs[GreeterKey]; !ok {
		return nil, fmt.Errorf("registry missing required %q agent", GreeterKey)
	}
	return r, nil
}

// Get returns the Spec for key, or ok=false if unregistered.
func (r *Registry) Get(key string) (*Spec, bool) {
	s, ok := r.specs[key]
	return s, ok
}

// Greeter returns the default agent (§4.6 step 1, §4.6 tie-break: "if the
// intent classifier returns an unknown key, fall back to the greeter").
func (r *Registry) Greeter() *Spec {
	return r.specs[GreeterKey]
}

// Keys returns the registered agent keys in registration order, used by
// the intent classifier prompt and the `/agents` endpoint (§6).
func (r *Registry) Keys() []string {
	return append([]string(nil), r.order...)
}

// List returns every registered Spec, used by `/agents` (§6: `GET
// /agents` → `{status,agents[{key,display_name}]}`).
func (r *Registry) List() []*Spec {
	out := make([]*Spec, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.specs[k])
	}
	return out
}
