package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/movedash/reconcile-cli/internal/config"
	"github.com/movedash/reconcile-cli/internal/crm"
)

// Report is one integrity-monitor run: linkage rates and orphan counts
// computed as of the check time, plus the alerts they triggered.
type Report struct {
	CheckedAt           time.Time `json:"checked_at"`
	JobCustomerRate     float64   `json:"job_customer_rate"`
	LeadStatusRate      float64   `json:"lead_status_rate"`
	BadLeadRate         float64   `json:"bad_lead_rate"`
	LostLeadRate        float64   `json:"lost_lead_rate"`
	OrphanedLeadStatus  int64     `json:"orphaned_lead_status"`
	OrphanedLostLeads   int64     `json:"orphaned_lost_leads"`
	OrphanedBadLeads    int64     `json:"orphaned_bad_leads"`
	JobsWithoutCustomer int64     `json:"jobs_without_customer"`
	Alerts              []Alert   `json:"alerts"`
}

// Notes renders the rates for the execution ledger.
func (r *Report) Notes() string {
	return fmt.Sprintf("job_customer %.2f%%, lead_status %.2f%%, bad_lead %.2f%%, lost_lead %.2f%%, %d alerts",
		r.JobCustomerRate, r.LeadStatusRate, r.BadLeadRate, r.LostLeadRate, len(r.Alerts))
}

// Snapshot converts the report to its persisted form.
func (r *Report) Snapshot() (*crm.IntegritySnapshot, error) {
	alerts, err := json.Marshal(r.Alerts)
	if err != nil {
		return nil, eris.Wrap(err, "reconcile: marshal alerts")
	}
	return &crm.IntegritySnapshot{
		CheckedAt:           r.CheckedAt,
		JobCustomerRate:     r.JobCustomerRate,
		LeadStatusRate:      r.LeadStatusRate,
		BadLeadRate:         r.BadLeadRate,
		LostLeadRate:        r.LostLeadRate,
		OrphanedLeadStatus:  r.OrphanedLeadStatus,
		OrphanedLostLeads:   r.OrphanedLostLeads,
		OrphanedBadLeads:    r.OrphanedBadLeads,
		JobsWithoutCustomer: r.JobsWithoutCustomer,
		Alerts:              alerts,
	}, nil
}

// Monitor computes linkage health over the maintained relationships.
// Reads only; fact link fields are never mutated here.
type Monitor struct {
	store   crm.Store
	alerter *Alerter
	cfg     config.MonitorConfig
	log     *zap.Logger
}

// NewMonitor creates a Monitor with the given monitor config.
func NewMonitor(store crm.Store, cfg config.MonitorConfig) *Monitor {
	return &Monitor{
		store:   store,
		alerter: NewAlerter(cfg),
		cfg:     cfg,
		log:     zap.L().With(zap.String("component", "reconcile.integrity")),
	}
}

// Check counts the four maintained relationships concurrently, computes
// rates, and evaluates alerts. Nothing is persisted or delivered here.
func (m *Monitor) Check(ctx context.Context) (*Report, error) {
	var jobs, leadStatus, badLeads, lostLeads crm.RelationshipCounts

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		jobs, err = m.store.CountRelationship(gctx, crm.RelJobCustomer)
		return err
	})
	g.Go(func() error {
		var err error
		leadStatus, err = m.store.CountRelationship(gctx, crm.RelLeadStatusBO)
		return err
	})
	g.Go(func() error {
		var err error
		badLeads, err = m.store.CountRelationship(gctx, crm.RelBadLeadLS)
		return err
	})
	g.Go(func() error {
		var err error
		lostLeads, err = m.store.CountRelationship(gctx, crm.RelLostLeadBO)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rep := &Report{
		CheckedAt:           time.Now().UTC(),
		JobCustomerRate:     rate(jobs),
		LeadStatusRate:      rate(leadStatus),
		BadLeadRate:         rate(badLeads),
		LostLeadRate:        rate(lostLeads),
		OrphanedLeadStatus:  leadStatus.Orphaned(),
		OrphanedLostLeads:   lostLeads.Orphaned(),
		OrphanedBadLeads:    badLeads.Orphaned(),
		JobsWithoutCustomer: jobs.Orphaned(),
	}
	rep.Alerts = m.alerter.Evaluate(rep)

	m.log.Info("integrity check computed",
		zap.Float64("job_customer_rate", rep.JobCustomerRate),
		zap.Float64("lead_status_rate", rep.LeadStatusRate),
		zap.Float64("bad_lead_rate", rep.BadLeadRate),
		zap.Float64("lost_lead_rate", rep.LostLeadRate),
		zap.Int("alerts", len(rep.Alerts)))
	return rep, nil
}

// Persist appends the report as a snapshot row. Snapshots are never
// overwritten; trend queries depend on one row per run.
func (m *Monitor) Persist(ctx context.Context, rep *Report) error {
	snap, err := rep.Snapshot()
	if err != nil {
		return err
	}
	return m.store.InsertIntegritySnapshot(ctx, snap)
}

// Deliver sends the report's alerts to the configured webhook and returns
// the number sent. Delivery failures are logged, not returned.
func (m *Monitor) Deliver(ctx context.Context, rep *Report) int {
	return m.alerter.SendAlerts(ctx, rep.Alerts)
}

// WriteReport exports the report as a timestamped JSON file under dir and
// returns the file path.
func (m *Monitor) WriteReport(rep *Report, dir string) (string, error) {
	payload, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "reconcile: marshal report")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", eris.Wrap(err, "reconcile: create report dir")
	}
	name := fmt.Sprintf("integrity_check_%s.json", rep.CheckedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return "", eris.Wrap(err, "reconcile: write report")
	}
	return path, nil
}

func rate(c crm.RelationshipCounts) float64 {
	if c.Eligible == 0 {
		return 100
	}
	return math.Round(float64(c.Linked)/float64(c.Eligible)*10000) / 100
}
