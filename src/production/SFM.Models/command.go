package sfmmodels

import "time"

// CommandStatus tracks a manual command through delivery
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
	CommandQueued   CommandStatus = "queued"
)

// ParseCommandStatus accepts pending, executed and queued
func ParseCommandStatus(s string) (CommandStatus, bool) {
	switch CommandStatus(s) {
	case CommandPending, CommandExecuted, CommandQueued:
		return CommandStatus(s), true
	}
	return "", false
}

// Command is an operator-issued actuator command
type Command struct {
	ID         string        `json:"id"`
	DeviceID   string        `json:"deviceId"`
	UserID     string        `json:"userId"`
	Target     Channel       `json:"target"`
	Action     RelayState    `json:"action"`
	Status     CommandStatus `json:"status"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// CommandAck is the device acknowledgement on devices/<id>/cmd/ack
type CommandAck struct {
	ID         string        `json:"id"`
	Status     CommandStatus `json:"status"`
	ExecutedAt *time.Time    `json:"executedAt,omitempty"`
}
