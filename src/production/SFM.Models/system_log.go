package sfmmodels

import "time"

// Actor names who caused a logged action
type Actor string

const (
	ActorUser   Actor = "User"
	ActorAdmin  Actor = "Admin"
	ActorDevice Actor = "Device"
)

// SystemLog is an audit entry
type SystemLog struct {
	ID        string    `json:"id"`
	Actor     Actor     `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSystemLog stamps an entry at now
func NewSystemLog(actor Actor, action, details string, now time.Time) *SystemLog {
	return &SystemLog{Actor: actor, Action: action, Details: details, Timestamp: now}
}
