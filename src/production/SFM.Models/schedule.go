package sfmmodels

import "time"

// Repeat is how often a schedule fires
type Repeat string

const (
	RepeatDaily  Repeat = "daily"
	RepeatWeekly Repeat = "weekly"
)

// ParseRepeat accepts daily and weekly
func ParseRepeat(s string) (Repeat, bool) {
	switch Repeat(s) {
	case RepeatDaily, RepeatWeekly:
		return Repeat(s), true
	}
	return "", false
}

// Schedule fires an action at a wall-clock time. Only the hour and minute
// of Time matter, plus the weekday for weekly schedules.
type Schedule struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"deviceId"`
	UserID    string     `json:"userId"`
	Target    Channel    `json:"target"`
	Action    RelayState `json:"action"`
	Time      time.Time  `json:"time"`
	Repeat    Repeat     `json:"repeat"`
	Active    bool       `json:"active"`
	LastRunAt *time.Time `json:"lastRunAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Due reports whether the schedule should fire at now, evaluated in loc
func (s *Schedule) Due(now time.Time, loc *time.Location) bool {
	if !s.Active {
		return false
	}
	if loc == nil {
		loc = time.Local
	}
	n := now.In(loc)
	at := s.Time.In(loc)
	if n.Hour() != at.Hour() || n.Minute() != at.Minute() {
		return false
	}
	if s.Repeat == RepeatWeekly && n.Weekday() != at.Weekday() {
		return false
	}
	if s.LastRunAt != nil && s.LastRunAt.In(loc).Truncate(time.Minute).Equal(n.Truncate(time.Minute)) {
		return false
	}
	return true
}

// ScheduleUpdate is a partial schedule edit
type ScheduleUpdate struct {
	Target *Channel
	Action *RelayState
	Time   *time.Time
	Repeat *Repeat
	Active *bool
}
