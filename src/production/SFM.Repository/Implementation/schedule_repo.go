package implementation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const scheduleColumns = `id, device_id, user_id, target, action, at_time, repeat, active, last_run_at, created_at, updated_at`

type PostgresScheduleRepository struct {
	db *sql.DB
}

func NewPostgresScheduleRepository(db *sql.DB) *PostgresScheduleRepository {
	return &PostgresScheduleRepository{db: db}
}

func scanSchedule(row scanner) (*sfmmodels.Schedule, error) {
	var (
		s                      sfmmodels.Schedule
		target, action, repeat string
		lastRun                sql.NullTime
	)
	if err := row.Scan(&s.ID, &s.DeviceID, &s.UserID, &target, &action, &s.Time, &repeat,
		&s.Active, &lastRun, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return nil, err
	}
	s.Target = sfmmodels.Channel(target)
	s.Action = sfmmodels.RelayState(action)
	s.Repeat = sfmmodels.Repeat(repeat)
	s.LastRunAt = timePtr(lastRun)
	return &s, nil
}

func (r *PostgresScheduleRepository) Create(ctx context.Context, s *sfmmodels.Schedule) (*sfmmodels.Schedule, error) {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	s.CreatedAt = time.Now()
	s.UpdatedAt = s.CreatedAt

	query := `
		INSERT INTO schedules (` + scheduleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query, s.ID, s.DeviceID, s.UserID, string(s.Target), string(s.Action),
		s.Time, string(s.Repeat), s.Active, nullTime(s.LastRunAt), s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresScheduleRepository) GetByID(ctx context.Context, id string) (*sfmmodels.Schedule, error) {
	s, err := scanSchedule(r.db.QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return s, err
}

func (r *PostgresScheduleRepository) List(ctx context.Context, deviceIDs []string) ([]*sfmmodels.Schedule, error) {
	b := &queryBuilder{}
	var where []string
	if deviceIDs != nil {
		where = append(where, inClause("device_id", b, deviceIDs))
	}
	return r.query(ctx, `SELECT `+scheduleColumns+` FROM schedules`+whereClause(where)+` ORDER BY at_time`, b.args...)
}

// ListActive feeds the schedule runner
func (r *PostgresScheduleRepository) ListActive(ctx context.Context) ([]*sfmmodels.Schedule, error) {
	return r.query(ctx, `SELECT `+scheduleColumns+` FROM schedules WHERE active = true`)
}

func (r *PostgresScheduleRepository) Update(ctx context.Context, id string, update sfmmodels.ScheduleUpdate) (*sfmmodels.Schedule, error) {
	b := &queryBuilder{}
	if update.Target != nil {
		b.set("target", string(*update.Target))
	}
	if update.Action != nil {
		b.set("action", string(*update.Action))
	}
	if update.Time != nil {
		b.set("at_time", *update.Time)
	}
	if update.Repeat != nil {
		b.set("repeat", string(*update.Repeat))
	}
	if update.Active != nil {
		b.set("active", *update.Active)
	}
	b.set("updated_at", time.Now())

	query := `UPDATE schedules SET ` + b.clause() + ` WHERE id = ` + b.arg(id) + ` RETURNING ` + scheduleColumns
	s, err := scanSchedule(r.db.QueryRowContext(ctx, query, b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return s, err
}

func (r *PostgresScheduleRepository) MarkRun(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE schedules SET last_run_at = $1, updated_at = $1 WHERE id = $2`, at, id)
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

func (r *PostgresScheduleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = $1`, id)
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

func (r *PostgresScheduleRepository) query(ctx context.Context, query string, args ...interface{}) ([]*sfmmodels.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	schedules := make([]*sfmmodels.Schedule, 0)
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}
