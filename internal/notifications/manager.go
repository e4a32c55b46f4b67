// Package notifications handles desktop alerts for glucose values and rapid changes
package notifications

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/beeep"

	"github.com/mrcode/nightscout-delta/internal/models"
)

// Alert type constants
const (
	alertUrgentLow  = "urgent_low"
	alertLow        = "low"
	alertUrgentHigh = "urgent_high"
	alertHigh       = "high"
	alertRapidRise  = "rapid_rise"
	alertRapidFall  = "rapid_fall"
)

// Notifier sends a single desktop notification
type Notifier func(title, message string) error

func beeepNotify(title, message string) error {
	return beeep.Notify(title, message, "")
}

// Manager decides which alerts a DeltaStatus raises and rate limits them
type Manager struct {
	settings      models.AlertSettings
	notify        Notifier
	now           func() time.Time
	lastAlertTime map[string]time.Time
	inExcursion   bool
	mu            sync.Mutex
}

// NewManager creates a notification manager sending through beeep
func NewManager(settings models.AlertSettings) *Manager {
	return &Manager{
		settings:      settings,
		notify:        beeepNotify,
		now:           time.Now,
		lastAlertTime: make(map[string]time.Time),
	}
}

// UpdateSettings updates the alert settings
func (m *Manager) UpdateSettings(settings models.AlertSettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
}

// CheckAndNotify sends the alerts raised by status that are not suppressed
func (m *Manager) CheckAndNotify(status *models.DeltaStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.settings.Enabled {
		return nil
	}

	glucoseAlert := m.shouldAlert(status)
	if glucoseAlert == "" && status.Status == "normal" {
		recovered := m.inExcursion
		m.inExcursion = false
		for _, t := range []string{alertUrgentLow, alertLow, alertHigh, alertUrgentHigh} {
			delete(m.lastAlertTime, t)
		}
		if recovered && m.settings.NotifyOnRecovery {
			if err := m.notify("✅ Back in Range", fmt.Sprintf("Glucose is back in range: %d mg/dL %s", status.Value, status.Arrow)); err != nil {
				return err
			}
		}
	}

	for _, alertType := range []string{glucoseAlert, m.rapidChangeAlert(status)} {
		if alertType == "" || m.suppressed(alertType) {
			continue
		}

		title, message := m.formatNotification(status, alertType)
		if err := m.notify(title, message); err != nil {
			return err
		}

		m.lastAlertTime[alertType] = m.now()
		if alertType == glucoseAlert {
			m.inExcursion = true
		}
	}

	return nil
}

// suppressed reports whether alertType was sent too recently to repeat
func (m *Manager) suppressed(alertType string) bool {
	lastTime, ok := m.lastAlertTime[alertType]
	if !ok {
		return false
	}
	if m.settings.RepeatInterval <= 0 {
		// No repeat, only alert once per excursion
		return true
	}
	return m.now().Sub(lastTime) < m.settings.RepeatInterval
}

// shouldAlert determines the glucose level alert for status, if any
func (m *Manager) shouldAlert(status *models.DeltaStatus) string {
	switch status.Status {
	case alertUrgentLow:
		if m.settings.UrgentLow {
			return alertUrgentLow
		}
	case alertLow:
		if m.settings.Low {
			return alertLow
		}
	case alertUrgentHigh:
		if m.settings.UrgentHigh {
			return alertUrgentHigh
		}
	case alertHigh:
		if m.settings.High {
			return alertHigh
		}
	}
	return ""
}

// rapidChangeAlert returns the rapid change alert for status, if any.
// Statuses without a computed delta never raise one.
func (m *Manager) rapidChangeAlert(status *models.DeltaStatus) string {
	limit := m.settings.RapidChange
	if limit <= 0 || status.Direction == models.DirectionNotComputable || math.IsNaN(status.Delta) {
		return ""
	}

	switch {
	case status.Delta >= limit:
		return alertRapidRise
	case status.Delta <= -limit:
		return alertRapidFall
	}
	return ""
}

// formatNotification creates the notification title and message
func (m *Manager) formatNotification(status *models.DeltaStatus, alertType string) (string, string) {
	var title, message string
	valueStr := fmt.Sprintf("%d mg/dL %s", status.Value, status.Arrow)

	switch alertType {
	case alertUrgentLow:
		title = "⚠️ URGENT LOW GLUCOSE"
		message = fmt.Sprintf("Glucose is critically low: %s", valueStr)
	case alertLow:
		title = "⬇️ Low Glucose"
		message = fmt.Sprintf("Glucose is low: %s", valueStr)
	case alertUrgentHigh:
		title = "⚠️ URGENT HIGH GLUCOSE"
		message = fmt.Sprintf("Glucose is critically high: %s", valueStr)
	case alertHigh:
		title = "⬆️ High Glucose"
		message = fmt.Sprintf("Glucose is high: %s", valueStr)
	case alertRapidRise:
		title = "⇈ Glucose Rising Fast"
		message = fmt.Sprintf("%s, %+.1f mg/dL per 5 min", valueStr, status.Delta)
	case alertRapidFall:
		title = "⇊ Glucose Falling Fast"
		message = fmt.Sprintf("%s, %+.1f mg/dL per 5 min", valueStr, status.Delta)
	}

	return title, message
}

// ClearAlertState clears the alert state for a specific type or all types
func (m *Manager) ClearAlertState(alertType string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if alertType == "" {
		m.lastAlertTime = make(map[string]time.Time)
		m.inExcursion = false
	} else {
		delete(m.lastAlertTime, alertType)
	}
}

// SendTestNotification sends a test notification
func (m *Manager) SendTestNotification() error {
	return m.notify("Nightscout Delta", "Test notification - alerts are working!")
}
