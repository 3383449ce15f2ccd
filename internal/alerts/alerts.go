// Package alerts fans operator notifications out to the configured
// channels. Alert delivery is best effort, a failed channel never blocks
// the trading pipeline.
package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Severity levels for alerts
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Alert represents an alert message
type Alert struct {
	Title     string
	Message   string
	Severity  Severity
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// Alerter defines the interface for sending alerts
type Alerter interface {
	Send(ctx context.Context, alert Alert) error
}

// Manager manages multiple alert channels
type Manager struct {
	alerters []Alerter
}

// NewManager creates a new alert manager
func NewManager(alerters ...Alerter) *Manager {
	return &Manager{
		alerters: alerters,
	}
}

// Send sends an alert to all configured alerters
func (m *Manager) Send(ctx context.Context, alert Alert) error {
	if alert.Timestamp.IsZero() {
		alert.Timestamp = time.Now()
	}

	var lastErr error
	for _, alerter := range m.alerters {
		if err := alerter.Send(ctx, alert); err != nil {
			log.Error().
				Err(err).
				Str("title", alert.Title).
				Msg("Failed to send alert")
			lastErr = err
		}
	}

	return lastErr
}

// SendCritical is a convenience method for sending critical alerts
func (m *Manager) SendCritical(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityCritical,
		Metadata: metadata,
	})
}

// SendWarning is a convenience method for sending warning alerts
func (m *Manager) SendWarning(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityWarning,
		Metadata: metadata,
	})
}

// SendInfo is a convenience method for sending info alerts
func (m *Manager) SendInfo(ctx context.Context, title, message string, metadata map[string]interface{}) error {
	return m.Send(ctx, Alert{
		Title:    title,
		Message:  message,
		Severity: SeverityInfo,
		Metadata: metadata,
	})
}

// LogAlerter logs alerts using zerolog
type LogAlerter struct{}

// NewLogAlerter creates a new log-based alerter
func NewLogAlerter() *LogAlerter {
	return &LogAlerter{}
}

// Send sends an alert by logging it
func (l *LogAlerter) Send(ctx context.Context, alert Alert) error {
	event := log.Log()

	switch alert.Severity {
	case SeverityCritical:
		event = log.Error()
	case SeverityWarning:
		event = log.Warn()
	case SeverityInfo:
		event = log.Info()
	}

	if alert.Metadata != nil {
		for key, value := range alert.Metadata {
			event = event.Interface(key, value)
		}
	}

	event.
		Str("alert_title", alert.Title).
		Str("alert_severity", string(alert.Severity)).
		Time("alert_time", alert.Timestamp).
		Msg(fmt.Sprintf("ALERT: %s", alert.Message))

	return nil
}

// Default global alert manager, replaced at boot when Telegram is enabled.
var defaultManager *Manager

func init() {
	defaultManager = NewManager(NewLogAlerter())
}

// GetDefaultManager returns the default alert manager
func GetDefaultManager() *Manager {
	return defaultManager
}

// SetDefaultManager sets the default alert manager
func SetDefaultManager(manager *Manager) {
	defaultManager = manager
}

// Helper functions for common alerts

// AlertOrderFailed sends an alert when an order exhausts its retries.
func AlertOrderFailed(ctx context.Context, symbol, side string, quantity float64, err error) {
	defaultManager.SendCritical(ctx, "Order Placement Failed", fmt.Sprintf(
		"Failed to place %s order for %s: %v", side, symbol, err,
	), map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"error":    err.Error(),
	})
}

// AlertOrderFilled sends an alert for a successfully opened position.
func AlertOrderFilled(ctx context.Context, symbol, side string, quantity, entry float64) {
	defaultManager.SendInfo(ctx, "Position Opened", fmt.Sprintf(
		"Opened %s %s, qty %.6f at %.2f", side, symbol, quantity, entry,
	), map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"entry":    entry,
	})
}

// AlertRiskBlock sends an alert when the risk audit vetoes an order.
func AlertRiskBlock(ctx context.Context, symbol, reason, detail string) {
	defaultManager.SendWarning(ctx, "Order Blocked By Risk Audit", fmt.Sprintf(
		"Blocked %s order: %s", symbol, detail,
	), map[string]interface{}{
		"symbol": symbol,
		"reason": reason,
	})
}

// AlertDrawdownHalt sends an alert when drawdown or a losing streak stops
// new entries.
func AlertDrawdownHalt(ctx context.Context, drawdown float64, consecutiveLosses int) {
	defaultManager.SendCritical(ctx, "Trading Halted", fmt.Sprintf(
		"New entries halted: drawdown %.1f%%, %d consecutive losses", drawdown*100, consecutiveLosses,
	), map[string]interface{}{
		"drawdown":           drawdown,
		"consecutive_losses": consecutiveLosses,
	})
}

// AlertSymbolQuarantined sends an alert when a symbol is suspended after
// a failed dispatch until its positions reconcile.
func AlertSymbolQuarantined(ctx context.Context, symbol string, err error) {
	defaultManager.SendCritical(ctx, "Symbol Quarantined", fmt.Sprintf(
		"Suspended trading on %s until reconciliation: %v", symbol, err,
	), map[string]interface{}{
		"symbol": symbol,
		"error":  err.Error(),
	})
}

// AlertTradeClosed sends an alert when a position closes.
func AlertTradeClosed(ctx context.Context, symbol string, pnl, fees float64) {
	defaultManager.SendInfo(ctx, "Position Closed", fmt.Sprintf(
		"Closed %s, pnl %.2f (fees %.2f)", symbol, pnl, fees,
	), map[string]interface{}{
		"symbol": symbol,
		"pnl":    pnl,
		"fees":   fees,
	})
}

// AlertSystemError sends an alert for critical system errors
func AlertSystemError(ctx context.Context, component string, err error) {
	defaultManager.SendCritical(ctx, "System Error", fmt.Sprintf(
		"Critical error in %s: %v", component, err,
	), map[string]interface{}{
		"component": component,
		"error":     err.Error(),
	})
}
