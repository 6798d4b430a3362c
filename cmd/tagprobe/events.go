package main

import (
	"context"

	"github.com/jakopako/tagprobe/internal/feasibility"
	"github.com/jakopako/tagprobe/internal/tagconfig"
	"github.com/jakopako/tagprobe/internal/types"
)

// feasibilityFilter returns the events that can fire on the page type.
func feasibilityFilter(tags *tagconfig.StaticProvider, pt types.PageType, policy feasibility.Policy) map[string]bool {
	e := feasibility.NewEvaluator(tags.Scope(), policy)
	out := map[string]bool{}
	for _, name := range feasibility.Candidates(e.EvaluateAll(context.Background(), tags.Events(), pt)) {
		out[name] = true
	}
	return out
}
