package implementation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// MemoryDeviceStore is an in-process DeviceRepository with the same merge
// semantics as the Postgres store. Used by tests of the core components.
type MemoryDeviceStore struct {
	mu      sync.Mutex
	devices map[string]sfmmodels.Device
	now     func() time.Time

	// UpdateErr, when set, fails every UpdateFields call
	UpdateErr error
	// Updates counts successful UpdateFields calls
	Updates int
}

func NewMemoryDeviceStore() *MemoryDeviceStore {
	return &MemoryDeviceStore{devices: make(map[string]sfmmodels.Device), now: time.Now}
}

// Put stores a copy of d
func (s *MemoryDeviceStore) Put(d *sfmmodels.Device) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices[d.ID] = *d
}

func (s *MemoryDeviceStore) Create(_ context.Context, d *sfmmodels.Device) (*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ExternalID != "" {
		for _, existing := range s.devices {
			if existing.ExternalID == d.ExternalID {
				return nil, interfaces.ErrConflict
			}
		}
	}
	created := *d
	if created.ID == "" {
		created.ID = uuid.New().String()
	}
	if created.Status == "" {
		created.Status = sfmmodels.StatusOffline
	}
	created.CreatedAt = s.now()
	created.UpdatedAt = created.CreatedAt
	s.devices[created.ID] = created
	return &created, nil
}

func (s *MemoryDeviceStore) List(_ context.Context, ownerID string) ([]*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sfmmodels.Device, 0, len(s.devices))
	for _, d := range s.devices {
		if ownerID == "" || d.OwnerID == ownerID {
			d := d
			out = append(out, &d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryDeviceStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.devices[id]; !ok {
		return interfaces.ErrNotFound
	}
	delete(s.devices, id)
	return nil
}

func (s *MemoryDeviceStore) Get(_ context.Context, id string) (*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.devices[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}
	return &d, nil
}

func (s *MemoryDeviceStore) GetByExternalID(_ context.Context, externalID string) (*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.devices {
		if d.ExternalID == externalID && externalID != "" {
			d := d
			return &d, nil
		}
	}
	return nil, interfaces.ErrNotFound
}

func (s *MemoryDeviceStore) ListByStatus(_ context.Context, status sfmmodels.DeviceStatus) ([]*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*sfmmodels.Device, 0)
	for _, d := range s.devices {
		if d.Status == status {
			d := d
			out = append(out, &d)
		}
	}
	return out, nil
}

func (s *MemoryDeviceStore) UpdateFields(_ context.Context, id string, u sfmmodels.DeviceUpdate) (*sfmmodels.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return nil, s.UpdateErr
	}
	d, ok := s.devices[id]
	if !ok {
		return nil, interfaces.ErrNotFound
	}

	now := s.now()
	if u.ExternalID != nil {
		if d.ExternalID != "" && d.ExternalID != *u.ExternalID {
			return nil, interfaces.ErrConflict
		}
		d.ExternalID = *u.ExternalID
	}
	if u.Name != nil {
		d.Name = *u.Name
	}
	if u.Location != nil {
		d.Location = *u.Location
	}
	if u.FirmwareVersion != nil {
		d.FirmwareVersion = *u.FirmwareVersion
	}
	if u.Status != nil {
		d.Status = *u.Status
	}
	if u.LastSeenAt != nil {
		t := *u.LastSeenAt
		d.LastSeenAt = &t
	}
	if u.MinToggleIntervalSec != nil {
		d.MinToggleIntervalSec = *u.MinToggleIntervalSec
	}
	for ch, cu := range u.Channels {
		cfg, st := channelRefs(&d, ch)
		if cfg == nil {
			continue
		}
		if cu.Enabled != nil {
			cfg.Enabled = *cu.Enabled
		}
		if cu.ClearThreshold {
			cfg.Threshold = nil
		} else if cu.Threshold != nil {
			v := *cu.Threshold
			cfg.Threshold = &v
		}
		if cu.Hysteresis != nil {
			v := *cu.Hysteresis
			cfg.Hysteresis = &v
		}
		if cu.State != nil && *cu.State != st.LastState {
			at := now
			if cu.ChangedAt != nil {
				at = *cu.ChangedAt
			}
			st.LastState = *cu.State
			st.LastToggleAt = &at
		}
	}
	d.UpdatedAt = now
	s.devices[id] = d
	s.Updates++
	return &d, nil
}

func channelRefs(d *sfmmodels.Device, ch sfmmodels.Channel) (*sfmmodels.ChannelConfig, *sfmmodels.ChannelState) {
	switch ch {
	case sfmmodels.ChannelFan:
		return &d.Fan, &d.FanState
	case sfmmodels.ChannelPump:
		return &d.Pump, &d.PumpState
	case sfmmodels.ChannelLight:
		return &d.Light, &d.LightState
	}
	return nil, nil
}
