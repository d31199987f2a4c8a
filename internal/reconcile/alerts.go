package reconcile

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/movedash/reconcile-cli/internal/config"
	"github.com/movedash/reconcile-cli/internal/crm"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertLowLinkageRate AlertType = "low_linkage_rate"
	AlertOrphanedRows   AlertType = "orphaned_rows"
)

// Alert represents a single linkage-health finding.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates an integrity report against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitor config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the report against thresholds and returns any alerts.
// Jobs without a customer have no prerequisite key to link on, so they
// are covered by the rate check only, never the orphan check.
func (a *Alerter) Evaluate(rep *Report) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	rateChecks := []struct {
		relationship string
		rate         float64
		threshold    float64
		severity     string
	}{
		{crm.RelJobCustomer, rep.JobCustomerRate, a.cfg.JobCustomerThreshold, "warning"},
		{crm.RelLeadStatusBO, rep.LeadStatusRate, a.cfg.LeadStatusThreshold, "warning"},
		{crm.RelBadLeadLS, rep.BadLeadRate, a.cfg.BadLeadThreshold, "info"},
	}
	for _, c := range rateChecks {
		if c.threshold <= 0 || c.rate >= c.threshold {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertLowLinkageRate,
			Severity: c.severity,
			Message: fmt.Sprintf(
				"%s linkage at %.2f%% is below the %.2f%% threshold",
				c.relationship, c.rate, c.threshold,
			),
			Details: map[string]any{
				"relationship": c.relationship,
				"rate":         c.rate,
				"threshold":    c.threshold,
			},
			Timestamp: now,
		})
	}

	orphanChecks := []struct {
		relationship string
		noun         string
		count        int64
	}{
		{crm.RelLeadStatusBO, "lead status(es) with a quote number but no booked opportunity", rep.OrphanedLeadStatus},
		{crm.RelLostLeadBO, "lost lead(s) with a quote number but no booked opportunity", rep.OrphanedLostLeads},
		{crm.RelBadLeadLS, "bad lead(s) with an identity field but no lead status", rep.OrphanedBadLeads},
	}
	for _, c := range orphanChecks {
		if c.count <= 0 {
			continue
		}
		alerts = append(alerts, Alert{
			Type:     AlertOrphanedRows,
			Severity: "warning",
			Message:  fmt.Sprintf("%d %s", c.count, c.noun),
			Details: map[string]any{
				"relationship": c.relationship,
				"count":        c.count,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("reconcile: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("reconcile: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "reconcile: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "reconcile: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "reconcile: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("reconcile: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
