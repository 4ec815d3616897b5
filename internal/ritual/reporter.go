package ritual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"perp-ritual-lab/internal/domain"
)

// TradeSnapshot is the session state pushed to the companion backend on
// open and on settlement.
type TradeSnapshot struct {
	SessionID       string  `json:"session_id"`
	Symbol          string  `json:"symbol"`
	Side            string  `json:"side"`
	MarginUSD       float64 `json:"margin_usd"`
	Leverage        float64 `json:"leverage"`
	TPMultiple      float64 `json:"tp_multiple"`
	TargetProfitUSD float64 `json:"target_profit_usd"`
	EntryPrice      float64 `json:"entry_price"`
	LiqPrice        float64 `json:"liq_price"`
	TargetPrice     float64 `json:"target_price"`
	CurrentPrice    float64 `json:"current_price"`
	Luck            float64 `json:"luck"`
	PnLUSD          float64 `json:"pnl_usd"`
	Status          string  `json:"status"`
	StartedAt       string  `json:"started_at"`
	EndedAt         string  `json:"ended_at,omitempty"`
}

// TradeReporter pushes session snapshots to an external consumer.
type TradeReporter interface {
	Report(ctx context.Context, snap TradeSnapshot) error
}

// report is best-effort: the backend mirror never blocks the ritual.
func (d *Desk) report(ctx context.Context, sess *domain.TradeSession) {
	if d.reporter == nil {
		return
	}
	if err := d.reporter.Report(ctx, Snapshot(sess, d.config.Symbol)); err != nil {
		d.logger.Printf("report session %s failed: %v", sess.ID, err)
	}
}

// Snapshot builds the reportable view of a session.
func Snapshot(sess *domain.TradeSession, symbol string) TradeSnapshot {
	snap := TradeSnapshot{
		SessionID:       sess.ID,
		Symbol:          symbol,
		Side:            string(sess.Side),
		MarginUSD:       sess.MarginUSD,
		Leverage:        sess.Leverage,
		TPMultiple:      sess.TPMultiple,
		TargetProfitUSD: sess.TargetProfitUSD,
		EntryPrice:      sess.EntryPrice,
		LiqPrice:        sess.LiqPrice,
		TargetPrice:     sess.TargetPrice,
		CurrentPrice:    sess.CurrentPrice,
		Luck:            sess.LastLuck(),
		PnLUSD:          sess.PnLUSD(sess.CurrentPrice),
		Status:          string(sess.Status),
		StartedAt:       time.UnixMilli(sess.StartedAt).UTC().Format(time.RFC3339),
	}
	if sess.EndedAt > 0 {
		snap.EndedAt = time.UnixMilli(sess.EndedAt).UTC().Format(time.RFC3339)
	}
	return snap
}

// HTTPReporter posts snapshots as JSON to a backend endpoint.
type HTTPReporter struct {
	endpoint string
	client   *http.Client
}

// NewHTTPReporter creates a reporter for the given endpoint URL.
func NewHTTPReporter(endpoint string) *HTTPReporter {
	return &HTTPReporter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Report posts the snapshot. Non-2xx responses are errors.
func (r *HTTPReporter) Report(ctx context.Context, snap TradeSnapshot) error {
	body, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}

var _ TradeReporter = (*HTTPReporter)(nil)
