package reconcile

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Stage names, in dependency order: dimensions before links, links before
// the health check.
const (
	StageLookup    = "lookup"
	StageLink      = "link"
	StageIntegrity = "integrity"
)

// StageNames returns the registered stage names in run order.
func StageNames() []string {
	return []string{StageLookup, StageLink, StageIntegrity}
}

// Outcome classifies how a stage or script invocation ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeFailed    Outcome = "failed"
)

// ScriptResult is the outcome of one batch script invocation.
type ScriptResult struct {
	Script  string  `json:"script"`
	Outcome Outcome `json:"outcome"`
	Changes int64   `json:"changes"`
	Notes   string  `json:"notes,omitempty"`
	Err     string  `json:"error,omitempty"`
}

// StageResult is the outcome of one orchestrated stage.
type StageResult struct {
	Stage   string         `json:"stage"`
	Outcome Outcome        `json:"outcome"`
	Scripts []ScriptResult `json:"scripts,omitempty"`
	Err     string         `json:"error,omitempty"`
}

// RunResult is one engine run across the selected stages.
type RunResult struct {
	DryRun bool          `json:"dry_run"`
	Stages []StageResult `json:"stages"`
}

// Changes sums row changes across all stages.
func (r *RunResult) Changes() int64 {
	var n int64
	for _, stage := range r.Stages {
		for _, script := range stage.Scripts {
			n += script.Changes
		}
	}
	return n
}

// Failed reports whether any stage failed.
func (r *RunResult) Failed() bool {
	for _, stage := range r.Stages {
		if stage.Outcome == OutcomeFailed {
			return true
		}
	}
	return false
}

// stageOutcome folds script outcomes into the stage outcome: failed when
// any script failed, skipped when every script was a gated no-op, else
// completed.
func stageOutcome(scripts []ScriptResult) Outcome {
	skipped := 0
	for _, script := range scripts {
		if script.Outcome == OutcomeFailed {
			return OutcomeFailed
		}
		if script.Outcome == OutcomeSkipped {
			skipped++
		}
	}
	if len(scripts) > 0 && skipped == len(scripts) {
		return OutcomeSkipped
	}
	return OutcomeCompleted
}

// selectStages resolves a --stages filter against the registry, keeping
// registry order and rejecting unknown names.
func selectStages(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return StageNames(), nil
	}
	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		known := false
		for _, s := range StageNames() {
			if name == s {
				known = true
				break
			}
		}
		if !known {
			return nil, eris.Errorf("reconcile: unknown stage %q (valid: %s)", name, strings.Join(StageNames(), ", "))
		}
		want[name] = true
	}
	var stages []string
	for _, name := range StageNames() {
		if want[name] {
			stages = append(stages, name)
		}
	}
	return stages, nil
}
