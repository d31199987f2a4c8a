package reconcile

import (
	"context"

	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/config"
	"github.com/movedash/reconcile-cli/internal/crm"
)

// RunOptions control one engine run.
type RunOptions struct {
	Execute bool     // apply writes; the default is a rolled-back dry run
	Force   bool     // rerun scripts the ledger has already seen
	Stages  []string // subset of StageNames(); empty runs all
}

// Engine sequences the reconciliation stages in dependency order. Each
// stage runs under its own wall-clock timeout; a failed or timed-out stage
// is logged and the next stage still runs, since every stage is idempotent
// and partial progress is fine.
type Engine struct {
	store   crm.Store
	ledger  Ledger
	rules   *Rules
	monitor *Monitor
	cfg     config.EngineConfig
	log     *zap.Logger
}

// NewEngine creates an engine over the given store. The store doubles as
// the execution ledger.
func NewEngine(store crm.Store, rules *Rules, monitor *Monitor, cfg config.EngineConfig) *Engine {
	return &Engine{
		store:   store,
		ledger:  store,
		rules:   rules,
		monitor: monitor,
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "reconcile.engine")),
	}
}

// WithLedger swaps the execution ledger, which defaults to the store.
func (e *Engine) WithLedger(ledger Ledger) *Engine {
	e.ledger = ledger
	return e
}

// Run executes the selected stages in registry order and reports per-stage
// outcomes. It returns an error only before any stage has run (an unknown
// stage name); stage failures are carried in the result.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	stages, err := selectStages(opts.Stages)
	if err != nil {
		return nil, err
	}

	result := &RunResult{DryRun: !opts.Execute}
	for _, name := range stages {
		sctx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeoutFor(name))
		var res StageResult
		switch name {
		case StageLookup:
			res = e.runLookup(sctx, opts)
		case StageLink:
			res = e.runLink(sctx, opts)
		case StageIntegrity:
			res = e.runIntegrity(sctx, opts)
		}
		cancel()

		if res.Outcome == OutcomeFailed {
			e.log.Warn("stage failed, continuing",
				zap.String("stage", name),
				zap.String("error", res.Err))
		}
		result.Stages = append(result.Stages, res)
	}
	return result, nil
}

func (e *Engine) runLookup(ctx context.Context, opts RunOptions) StageResult {
	scripts := []ScriptResult{
		e.runScript(ctx, ScriptPopulateBranches, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewResolver(s, e.rules).PopulateBranches(ctx)
			return counts.Notes(), counts.Backfilled + int64(counts.Created), err
		}),
		e.runScript(ctx, ScriptPopulateSalesPersons, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewResolver(s, e.rules).PopulateSalesPersons(ctx)
			return counts.Notes(), counts.Backfilled + int64(counts.Created), err
		}),
		e.runScript(ctx, ScriptPopulateLeadSources, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewResolver(s, e.rules).PopulateLeadSources(ctx)
			return counts.Notes(), counts.Backfilled + int64(counts.Created), err
		}),
		e.runScript(ctx, ScriptMergeSalesPersons, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewResolver(s, e.rules).MergeSalesPersonVariations(ctx)
			return counts.Notes(), counts.RefsMoved + int64(counts.Deactivated) + int64(counts.Renamed), err
		}),
	}
	return StageResult{Stage: StageLookup, Outcome: stageOutcome(scripts), Scripts: scripts}
}

func (e *Engine) runLink(ctx context.Context, opts RunOptions) StageResult {
	scripts := []ScriptResult{
		e.runScript(ctx, ScriptCompleteQuoteLinkage, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewLinker(s).CompleteQuoteLinkage(ctx)
			return counts.Notes(), counts.Total(), err
		}),
		e.runScript(ctx, ScriptLinkBadLeads, opts, func(s crm.Store) (string, int64, error) {
			counts, err := NewLinker(s).LinkBadLeads(ctx)
			return counts.Notes(), counts.Total(), err
		}),
	}
	return StageResult{Stage: StageLink, Outcome: stageOutcome(scripts), Scripts: scripts}
}

// runIntegrity is not gated by HasRun: gating an append-only monitor would
// cap trend history at one snapshot. Dry runs compute and report only.
func (e *Engine) runIntegrity(ctx context.Context, opts RunOptions) StageResult {
	res := StageResult{Stage: StageIntegrity}

	rep, err := e.monitor.Check(ctx)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err.Error()
		return res
	}
	script := ScriptResult{
		Script:  ScriptIntegrityCheck,
		Outcome: OutcomeCompleted,
		Notes:   rep.Notes(),
	}

	if opts.Execute {
		if err := e.monitor.Persist(ctx, rep); err != nil {
			script.Outcome, script.Err = OutcomeFailed, err.Error()
			res.Scripts = []ScriptResult{script}
			res.Outcome, res.Err = OutcomeFailed, err.Error()
			return res
		}
		e.monitor.Deliver(ctx, rep)
		if dir := e.monitor.cfg.ReportDir; dir != "" {
			if path, err := e.monitor.WriteReport(rep, dir); err != nil {
				e.log.Warn("report export failed", zap.Error(err))
			} else {
				e.log.Info("report exported", zap.String("path", path))
			}
		}
		if err := e.ledger.RecordRun(ctx, ScriptIntegrityCheck, rep.Notes()); err != nil {
			script.Outcome, script.Err = OutcomeFailed, err.Error()
		}
	}

	res.Scripts = []ScriptResult{script}
	res.Outcome = stageOutcome(res.Scripts)
	return res
}

// runScript applies the ledger gate and dry-run semantics around one
// mutating batch script. fn runs against the real store in execute mode
// and against a rolled-back transaction view in dry-run mode.
func (e *Engine) runScript(ctx context.Context, script string, opts RunOptions, fn func(s crm.Store) (string, int64, error)) ScriptResult {
	res := ScriptResult{Script: script}

	if !opts.Execute {
		err := e.store.InDryRun(ctx, func(tx crm.Store) error {
			notes, changes, err := fn(tx)
			if err != nil {
				return err
			}
			res.Notes, res.Changes = notes, changes
			return nil
		})
		if err != nil {
			res.Outcome, res.Err = OutcomeFailed, err.Error()
			return res
		}
		res.Outcome = OutcomeCompleted
		e.log.Info("dry run complete",
			zap.String("script", script),
			zap.Int64("planned_changes", res.Changes),
			zap.String("notes", res.Notes))
		return res
	}

	ran, err := e.ledger.HasRun(ctx, script)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err.Error()
		return res
	}
	if ran && !opts.Force {
		// Gated no-ops still count an invocation.
		if err := e.ledger.RecordRun(ctx, script, ""); err != nil {
			res.Outcome, res.Err = OutcomeFailed, err.Error()
			return res
		}
		res.Outcome = OutcomeSkipped
		res.Notes = "already run, use --force to rerun"
		e.log.Info("script already run, skipping", zap.String("script", script))
		return res
	}

	notes, changes, err := fn(e.store)
	if err != nil {
		res.Outcome, res.Err = OutcomeFailed, err.Error()
		return res
	}
	if err := e.ledger.RecordRun(ctx, script, notes); err != nil {
		res.Outcome, res.Err = OutcomeFailed, err.Error()
		return res
	}
	res.Outcome, res.Notes, res.Changes = OutcomeCompleted, notes, changes
	e.log.Info("script complete",
		zap.String("script", script),
		zap.Int64("changes", changes))
	return res
}
