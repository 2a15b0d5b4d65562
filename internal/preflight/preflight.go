package preflight

import (
	"context"

	"newsrelay/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// Options selects optional checks.
type Options struct {
	// Network enables the analysis provider round trip.
	Network bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config, opts Options) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckRequirement("News source", cfg.RequireSource, "credentials present"),
		CheckRequirement("Notifications", cfg.RequireNotifications, "channel "+cfg.Notifications.Channel),
	}

	if opts.Network {
		results = append(results, CheckLLM(ctx, "Analysis provider", cfg.LLM))
	} else {
		results = append(results, CheckRequirement("Analysis provider", cfg.RequireAnalysis, "API key present"))
	}
	return results
}

// Failed returns the results that did not pass.
func Failed(results []Result) []Result {
	var failed []Result
	for _, r := range results {
		if !r.Passed {
			failed = append(failed, r)
		}
	}
	return failed
}
