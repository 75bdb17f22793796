package publisher

import (
	"sync"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

// Command is one recorded publish
type Command struct {
	ExternalID string
	Channel    sfmmodels.Channel
	Action     sfmmodels.RelayState
}

// FakePublisher records published commands for test assertions.
type FakePublisher struct {
	mu sync.Mutex

	// Events contains every command that was published successfully.
	Events []Command

	// Attempts counts calls to Publish, including failed ones.
	Attempts int

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Connected controls the return value of IsConnected.
	Connected bool

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a connected FakePublisher.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{Connected: true}
}

func (f *FakePublisher) Publish(externalID string, ch sfmmodels.Channel, action sfmmodels.RelayState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Attempts++
	if f.PublishError != nil {
		return f.PublishError
	}
	f.Events = append(f.Events, Command{ExternalID: externalID, Channel: ch, Action: action})
	return nil
}

// Commands returns a copy of the recorded commands.
func (f *FakePublisher) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.Events))
	copy(out, f.Events)
	return out
}

// SetError changes the error returned by later Publish calls.
func (f *FakePublisher) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PublishError = err
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

func (f *FakePublisher) BreakerState() string {
	return "closed"
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

// Reset clears recorded commands.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = nil
	f.Attempts = 0
	f.PublishError = nil
	f.Closed = false
}
