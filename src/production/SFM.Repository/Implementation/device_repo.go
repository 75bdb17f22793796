package implementation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

// deviceColumns is the select order scanDevice expects
var deviceColumns = []string{
	"id", "external_id", "name", "location", "firmware_version", "owner_id", "status", "last_seen_at",
	"auto_fan_enabled", "auto_fan_threshold", "auto_fan_hysteresis", "last_fan_state", "last_fan_toggle_at",
	"auto_pump_enabled", "auto_pump_threshold", "auto_pump_hysteresis", "last_pump_state", "last_pump_toggle_at",
	"auto_light_enabled", "auto_light_threshold", "auto_light_hysteresis", "last_light_state", "last_light_toggle_at",
	"min_toggle_interval_sec", "created_at", "updated_at",
}

var deviceSelect = strings.Join(deviceColumns, ", ")

type PostgresDeviceRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresDeviceRepository(db *sql.DB) *PostgresDeviceRepository {
	return &PostgresDeviceRepository{db: db, now: time.Now}
}

type channelColumns struct {
	enabled    bool
	threshold  sql.NullFloat64
	hysteresis sql.NullFloat64
	state      sql.NullString
	toggleAt   sql.NullTime
}

func (c *channelColumns) dest() []interface{} {
	return []interface{}{&c.enabled, &c.threshold, &c.hysteresis, &c.state, &c.toggleAt}
}

func (c *channelColumns) into(cfg *sfmmodels.ChannelConfig, st *sfmmodels.ChannelState) {
	cfg.Enabled = c.enabled
	cfg.Threshold = floatPtr(c.threshold)
	cfg.Hysteresis = floatPtr(c.hysteresis)
	st.LastState = sfmmodels.RelayState(c.state.String)
	st.LastToggleAt = timePtr(c.toggleAt)
}

func scanDevice(row scanner) (*sfmmodels.Device, error) {
	var (
		d                  sfmmodels.Device
		externalID         sql.NullString
		lastSeen           sql.NullTime
		fan, pump, light   channelColumns
		status             string
		location, firmware sql.NullString
	)

	dest := []interface{}{&d.ID, &externalID, &d.Name, &location, &firmware, &d.OwnerID, &status, &lastSeen}
	dest = append(dest, fan.dest()...)
	dest = append(dest, pump.dest()...)
	dest = append(dest, light.dest()...)
	dest = append(dest, &d.MinToggleIntervalSec, &d.CreatedAt, &d.UpdatedAt)

	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	d.ExternalID = externalID.String
	d.Location = location.String
	d.FirmwareVersion = firmware.String
	d.Status = sfmmodels.DeviceStatus(status)
	d.LastSeenAt = timePtr(lastSeen)
	fan.into(&d.Fan, &d.FanState)
	pump.into(&d.Pump, &d.PumpState)
	light.into(&d.Light, &d.LightState)
	return &d, nil
}

// Create device
func (r *PostgresDeviceRepository) Create(ctx context.Context, device *sfmmodels.Device) (*sfmmodels.Device, error) {
	if device.ID == "" {
		device.ID = uuid.New().String()
	}
	if device.Status == "" {
		device.Status = sfmmodels.StatusOffline
	}
	now := r.now()

	query := `
		INSERT INTO devices (id, external_id, name, location, firmware_version, owner_id, status,
		                     auto_fan_enabled, auto_fan_threshold, auto_fan_hysteresis,
		                     auto_pump_enabled, auto_pump_threshold, auto_pump_hysteresis,
		                     auto_light_enabled, auto_light_threshold, auto_light_hysteresis,
		                     min_toggle_interval_sec, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)
		RETURNING ` + deviceSelect

	row := r.db.QueryRowContext(ctx, query,
		device.ID, nullString(device.ExternalID), device.Name, device.Location, device.FirmwareVersion,
		device.OwnerID, string(device.Status),
		device.Fan.Enabled, nullFloat(device.Fan.Threshold), nullFloat(device.Fan.Hysteresis),
		device.Pump.Enabled, nullFloat(device.Pump.Threshold), nullFloat(device.Pump.Hysteresis),
		device.Light.Enabled, nullFloat(device.Light.Threshold), nullFloat(device.Light.Hysteresis),
		device.MinToggleIntervalSec, now)

	created, err := scanDevice(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, interfaces.ErrConflict
		}
		return nil, fmt.Errorf("insert device: %w", err)
	}
	return created, nil
}

// Get device by internal id
func (r *PostgresDeviceRepository) Get(ctx context.Context, id string) (*sfmmodels.Device, error) {
	query := `SELECT ` + deviceSelect + ` FROM devices WHERE id = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return d, err
}

// GetByExternalID resolves the identity devices publish under
func (r *PostgresDeviceRepository) GetByExternalID(ctx context.Context, externalID string) (*sfmmodels.Device, error) {
	query := `SELECT ` + deviceSelect + ` FROM devices WHERE external_id = $1`
	d, err := scanDevice(r.db.QueryRowContext(ctx, query, externalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return d, err
}

// List devices of one owner, or all when ownerID is empty
func (r *PostgresDeviceRepository) List(ctx context.Context, ownerID string) ([]*sfmmodels.Device, error) {
	if ownerID == "" {
		return r.query(ctx, `SELECT `+deviceSelect+` FROM devices ORDER BY created_at DESC`)
	}
	return r.query(ctx, `SELECT `+deviceSelect+` FROM devices WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
}

// ListByStatus is used by the presence sweep
func (r *PostgresDeviceRepository) ListByStatus(ctx context.Context, status sfmmodels.DeviceStatus) ([]*sfmmodels.Device, error) {
	return r.query(ctx, `SELECT `+deviceSelect+` FROM devices WHERE status = $1`, string(status))
}

func (r *PostgresDeviceRepository) query(ctx context.Context, query string, args ...interface{}) ([]*sfmmodels.Device, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	devices := make([]*sfmmodels.Device, 0)
	for rows.Next() {
		d, err := scanDevice(rows)
		if err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	return devices, rows.Err()
}

// UpdateFields merges the set fields of update in one statement and returns
// the row as written. Channel state and its toggle timestamp are assigned
// together: the timestamp only moves when the stored state differs from the
// new one.
func (r *PostgresDeviceRepository) UpdateFields(ctx context.Context, id string, update sfmmodels.DeviceUpdate) (*sfmmodels.Device, error) {
	if update.IsEmpty() {
		return r.Get(ctx, id)
	}

	now := r.now()
	b := &queryBuilder{}

	if update.Name != nil {
		b.set("name", *update.Name)
	}
	if update.Location != nil {
		b.set("location", *update.Location)
	}
	if update.FirmwareVersion != nil {
		b.set("firmware_version", *update.FirmwareVersion)
	}
	if update.ExternalID != nil {
		b.set("external_id", nullString(*update.ExternalID))
	}
	if update.Status != nil {
		b.set("status", string(*update.Status))
	}
	if update.LastSeenAt != nil {
		b.set("last_seen_at", *update.LastSeenAt)
	}
	if update.MinToggleIntervalSec != nil {
		b.set("min_toggle_interval_sec", *update.MinToggleIntervalSec)
	}

	for _, ch := range sfmmodels.AutomationChannels {
		cu, ok := update.Channels[ch]
		if !ok {
			continue
		}
		prefix := string(ch)
		if cu.Enabled != nil {
			b.set("auto_"+prefix+"_enabled", *cu.Enabled)
		}
		if cu.ClearThreshold {
			b.expr("auto_" + prefix + "_threshold = NULL")
		} else if cu.Threshold != nil {
			b.set("auto_"+prefix+"_threshold", *cu.Threshold)
		}
		if cu.Hysteresis != nil {
			b.set("auto_"+prefix+"_hysteresis", *cu.Hysteresis)
		}
		if cu.State != nil {
			changedAt := now
			if cu.ChangedAt != nil {
				changedAt = *cu.ChangedAt
			}
			stateCol := "last_" + prefix + "_state"
			toggleCol := "last_" + prefix + "_toggle_at"
			state := b.arg(string(*cu.State))
			at := b.arg(changedAt)
			// right-hand sides see the pre-update row
			b.expr(fmt.Sprintf("%s = CASE WHEN %s IS DISTINCT FROM %s THEN %s ELSE %s END",
				toggleCol, stateCol, state, at, toggleCol))
			b.expr(stateCol + " = " + state)
		}
	}
	b.set("updated_at", now)

	where := "id = " + b.arg(id)
	if update.ExternalID != nil {
		// a bound external id never changes
		where += " AND (external_id IS NULL OR external_id = " + b.arg(*update.ExternalID) + ")"
	}

	query := `UPDATE devices SET ` + b.clause() + ` WHERE ` + where + ` RETURNING ` + deviceSelect

	d, err := scanDevice(r.db.QueryRowContext(ctx, query, b.args...))
	switch {
	case err == nil:
		return d, nil
	case isUniqueViolation(err):
		return nil, interfaces.ErrConflict
	case errors.Is(err, sql.ErrNoRows):
		if update.ExternalID == nil {
			return nil, interfaces.ErrNotFound
		}
		if _, getErr := r.Get(ctx, id); getErr != nil {
			return nil, getErr
		}
		return nil, interfaces.ErrConflict
	default:
		return nil, fmt.Errorf("update device %s: %w", id, err)
	}
}

// Delete device. Commands, schedules, alert rules and alerts go with it
// through ON DELETE CASCADE.
func (r *PostgresDeviceRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return interfaces.ErrNotFound
	}
	return nil
}
