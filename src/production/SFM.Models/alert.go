package sfmmodels

import (
	"fmt"
	"time"
)

// NotificationType selects the channels an alert rule notifies through
type NotificationType string

const (
	NotifyEmail NotificationType = "email"
	NotifyPush  NotificationType = "push"
	NotifyAll   NotificationType = "all"
)

// ParseNotificationType accepts email, push and all. "app" is an alias for push.
func ParseNotificationType(s string) (NotificationType, bool) {
	if s == "app" {
		return NotifyPush, true
	}
	switch NotificationType(s) {
	case NotifyEmail, NotifyPush, NotifyAll:
		return NotificationType(s), true
	}
	return "", false
}

// Emails reports whether the type includes email delivery
func (n NotificationType) Emails() bool {
	return n == NotifyEmail || n == NotifyAll
}

// CreateCooldownMinutes applies to rules created over the API without a
// cooldown. Zero is a valid cooldown and means no cooldown.
const CreateCooldownMinutes = 5

// AlertRule watches one metric of one device
type AlertRule struct {
	ID               string           `json:"id"`
	DeviceID         string           `json:"deviceId"`
	Metric           string           `json:"metric"`
	MinThreshold     *float64         `json:"minThreshold,omitempty"`
	MaxThreshold     *float64         `json:"maxThreshold,omitempty"`
	Enabled          bool             `json:"enabled"`
	NotificationType NotificationType `json:"notificationType"`
	CooldownMinutes  int              `json:"cooldownMinutes"`
	LastAlertTime    *time.Time       `json:"lastAlertTime,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// Breached applies the bound semantics: both bounds trigger strictly
// outside [min,max]; a lone min triggers at or below it; a lone max at or
// above it; no bounds never trigger.
func (r *AlertRule) Breached(v float64) bool {
	switch {
	case r.MinThreshold != nil && r.MaxThreshold != nil:
		return v < *r.MinThreshold || v > *r.MaxThreshold
	case r.MinThreshold != nil:
		return v <= *r.MinThreshold
	case r.MaxThreshold != nil:
		return v >= *r.MaxThreshold
	}
	return false
}

// CoolingDown reports whether the rule fired too recently to fire at now
func (r *AlertRule) CoolingDown(now time.Time) bool {
	if r.LastAlertTime == nil {
		return false
	}
	minutes := r.CooldownMinutes
	if minutes < 0 {
		minutes = 0
	}
	return now.Sub(*r.LastAlertTime) <= time.Duration(minutes)*time.Minute
}

// Message renders the alert text for a breaching value
func (r *AlertRule) Message(v float64) string {
	return fmt.Sprintf("%s is %.2f (threshold: %s - %s)", r.Metric, v, boundText(r.MinThreshold), boundText(r.MaxThreshold))
}

func boundText(b *float64) string {
	if b == nil {
		return "none"
	}
	return fmt.Sprintf("%g", *b)
}

// AlertRuleUpdate is a partial rule edit
type AlertRuleUpdate struct {
	MinThreshold     *float64
	ClearMin         bool
	MaxThreshold     *float64
	ClearMax         bool
	Enabled          *bool
	NotificationType *NotificationType
	CooldownMinutes  *int
}

// AlertType classifies an alert
type AlertType string

const (
	AlertWarning AlertType = "warning"
	AlertError   AlertType = "error"
)

// Alert is a fired notification stored for the dashboard
type Alert struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"deviceId"`
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// AlertQuery filters alert lists
type AlertQuery struct {
	DeviceIDs []string
	Read      *bool
}
