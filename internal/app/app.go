// Package app provides the main application logic
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mrcode/nightscout-delta/internal/badge"
	"github.com/mrcode/nightscout-delta/internal/delta"
	"github.com/mrcode/nightscout-delta/internal/models"
	"github.com/mrcode/nightscout-delta/internal/nightscout"
	"github.com/mrcode/nightscout-delta/internal/notifications"
)

// ErrNotConfigured is returned by online operations without a Nightscout URL
var ErrNotConfigured = errors.New("nightscout url is not configured")

// ErrNoCurrentReading is returned when there is no reading to compute a delta for
var ErrNoCurrentReading = errors.New("no current reading")

// App ties the Nightscout client, the delta estimator, the badge renderer and alerts together
type App struct {
	settings  *models.Settings
	client    *nightscout.Client
	estimator *delta.Estimator
	renderer  *badge.Renderer
	alerts    *notifications.Manager
	log       *zap.SugaredLogger
}

// New creates an App from validated settings. The Nightscout client is only
// created when a URL is configured.
func New(settings *models.Settings, logger *zap.SugaredLogger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	params, err := delta.ParamsFromSettings(settings.Delta)
	if err != nil {
		return nil, fmt.Errorf("delta settings: %w", err)
	}

	estimator, err := delta.New(params, delta.WithObserver(delta.NewZapObserver(logger)))
	if err != nil {
		return nil, err
	}

	a := &App{
		settings:  settings,
		estimator: estimator,
		renderer:  badge.NewRenderer(settings.Badge),
		alerts:    notifications.NewManager(settings.Alerts),
		log:       logger,
	}

	if settings.IsConfigured() {
		a.client = nightscout.NewClientFromSettings(settings.Nightscout)
	}

	return a, nil
}

// CheckConnection verifies that the Nightscout server answers
func (a *App) CheckConnection(ctx context.Context) (*models.ServerStatus, error) {
	if a.client == nil {
		return nil, ErrNotConfigured
	}
	return a.client.GetStatus(ctx)
}

// FetchStatus computes the delta for the latest Nightscout entry
func (a *App) FetchStatus(ctx context.Context) (*models.DeltaStatus, error) {
	if a.client == nil {
		return nil, ErrNotConfigured
	}

	current, err := a.client.GetCurrentEntry(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching current entry: %w", err)
	}

	p := a.estimator.Params()
	target := current.Time().Add(-p.Lookback)
	entries, err := a.client.GetEntriesAround(ctx, target, p.WindowHalfWidth)
	if err != nil {
		return nil, fmt.Errorf("fetching entries around %s: %w", target.Format("15:04:05"), err)
	}

	a.log.Debugw("fetched entries around target",
		"current", current.Time(),
		"target", target,
		"entries", len(entries))

	return a.createStatus(*current, models.Readings(entries)), nil
}

// StatusFromEntries computes the delta from an already loaded set of entries.
// When current is nil the newest entry is used as the current reading.
func (a *App) StatusFromEntries(entries []models.GlucoseEntry, current *models.GlucoseEntry) (*models.DeltaStatus, error) {
	if current == nil {
		for i := range entries {
			if current == nil || entries[i].Timestamp() > current.Timestamp() {
				current = &entries[i]
			}
		}
	}
	if current == nil {
		return nil, ErrNoCurrentReading
	}

	return a.createStatus(*current, models.Readings(entries)), nil
}

// WriteBadge renders the badge to the configured path; it does nothing when no path is set
func (a *App) WriteBadge(status *models.DeltaStatus) error {
	path := a.settings.Badge.Path
	if path == "" {
		return nil
	}

	if err := a.renderer.WriteFile(path, *status); err != nil {
		return fmt.Errorf("writing badge %s: %w", path, err)
	}

	a.log.Debugw("badge written", "path", path)
	return nil
}

// Notify sends the desktop alerts raised by status
func (a *App) Notify(status *models.DeltaStatus) error {
	return a.alerts.CheckAndNotify(status)
}

// Watch polls Nightscout every refresh interval until ctx is done, passing each
// computed status to handle. Fetch, badge and alert failures are logged and the
// loop keeps running.
func (a *App) Watch(ctx context.Context, handle func(*models.DeltaStatus)) error {
	if a.client == nil {
		return ErrNotConfigured
	}

	ticker := time.NewTicker(a.settings.Nightscout.Refresh)
	defer ticker.Stop()

	// Initial fetch
	a.refresh(ctx, handle)

	for {
		select {
		case <-ticker.C:
			a.refresh(ctx, handle)
		case <-ctx.Done():
			return nil
		}
	}
}

func (a *App) refresh(ctx context.Context, handle func(*models.DeltaStatus)) {
	status, err := a.FetchStatus(ctx)
	if err != nil {
		if ctx.Err() == nil {
			a.log.Errorw("refreshing glucose failed", "error", err)
		}
		return
	}

	if err := a.WriteBadge(status); err != nil {
		a.log.Errorw("badge update failed", "error", err)
	}
	if err := a.Notify(status); err != nil {
		a.log.Warnw("sending notification failed", "error", err)
	}

	handle(status)
}

func (a *App) createStatus(current models.GlucoseEntry, readings []models.Reading) *models.DeltaStatus {
	res := a.estimator.Estimate(float64(current.SGV), current.Timestamp(), readings)
	direction := models.DirectionForDelta(res.Delta)
	if res.Method == delta.MethodNone || res.Method == delta.MethodZeroElapsed {
		direction = models.DirectionNotComputable
	}

	status := &models.DeltaStatus{
		Value:      current.SGV,
		Time:       current.Time(),
		Delta:      res.Delta,
		Direction:  direction,
		Arrow:      models.ArrowForDirection(direction),
		Method:     res.Method.String(),
		Expected:   res.Expected,
		Candidates: res.Candidates,
		Status:     a.settings.GetGlucoseStatus(current.SGV),
	}

	a.log.Debugw("delta computed",
		"value", status.Value,
		"delta", status.Delta,
		"method", status.Method,
		"direction", status.Direction)

	return status
}
