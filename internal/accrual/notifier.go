// ABOUTME: Outbound contract toward the payroll/fee-accrual collaborator
// ABOUTME: Webhook and log notifier implementations plus outbox redelivery

package accrual

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clinova/attendance/internal/store"
)

// Event is the completion event emitted once per checked-out session.
// The collaborator is expected to be idempotent on (UserID, Date).
type Event struct {
	UserID            string  `json:"userId"`
	WorkLocationID    string  `json:"workLocationId"`
	Date              string  `json:"date"`
	DurationMinutes   int     `json:"durationMinutes"`
	IsLate            bool    `json:"isLate"`
	DistanceCheckInM  float64 `json:"distanceAtCheckInMeters"`
	DistanceCheckOutM float64 `json:"distanceAtCheckOutMeters"`
}

// Notifier delivers completion events to the accrual collaborator.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// WebhookNotifier POSTs events as JSON to a configured endpoint.
type WebhookNotifier struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookNotifier creates a notifier posting to url with the given
// request timeout.
func NewWebhookNotifier(url string, timeout time.Duration, logger *slog.Logger) *WebhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "accrual"),
	}
}

// Notify delivers one event. Non-2xx responses are errors so the outbox
// row stays undelivered for a later flush.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling accrual event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building accrual request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting accrual event: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("accrual endpoint returned %d", resp.StatusCode)
	}

	n.logger.Debug("delivered accrual event", "user", event.UserID, "date", event.Date)
	return nil
}

// LogNotifier records events to the log only, for deployments without the
// payroll hook configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With("component", "accrual")}
}

func (n *LogNotifier) Notify(ctx context.Context, event Event) error {
	n.logger.Info("session completed",
		"user", event.UserID,
		"location", event.WorkLocationID,
		"date", event.Date,
		"duration_minutes", event.DurationMinutes,
		"is_late", event.IsLate,
	)
	return nil
}

// EventFromRecord converts a stored outbox row into the wire event.
func EventFromRecord(e *store.AccrualEvent) Event {
	return Event{
		UserID:            e.UserID,
		WorkLocationID:    e.WorkLocationID,
		Date:              e.Date,
		DurationMinutes:   e.DurationMinutes,
		IsLate:            e.IsLate,
		DistanceCheckInM:  e.DistanceCheckInM,
		DistanceCheckOutM: e.DistanceCheckOutM,
	}
}

// Redeliver flushes undelivered outbox rows through the notifier, marking
// each delivered on success. Returns how many events were delivered; a
// delivery failure stops the pass so retries stay ordered.
func Redeliver(ctx context.Context, st store.Store, notifier Notifier, logger *slog.Logger) (int, error) {
	events, err := st.ListUndeliveredAccrualEvents(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("listing undelivered events: %w", err)
	}

	delivered := 0
	for _, e := range events {
		if err := notifier.Notify(ctx, EventFromRecord(e)); err != nil {
			return delivered, fmt.Errorf("delivering event %s: %w", e.ID, err)
		}
		if err := st.MarkAccrualDelivered(ctx, e.ID, time.Now().UTC()); err != nil {
			return delivered, fmt.Errorf("marking event %s delivered: %w", e.ID, err)
		}
		delivered++
		logger.Info("redelivered accrual event", "id", e.ID, "user", e.UserID, "date", e.Date)
	}
	return delivered, nil
}
