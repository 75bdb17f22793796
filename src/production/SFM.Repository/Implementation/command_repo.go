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

const commandSelect = `SELECT id, device_id, user_id, target, action, status, executed_at, created_at, updated_at FROM commands`

type PostgresCommandRepository struct {
	db *sql.DB
}

func NewPostgresCommandRepository(db *sql.DB) *PostgresCommandRepository {
	return &PostgresCommandRepository{db: db}
}

func scanCommand(row scanner) (*sfmmodels.Command, error) {
	var (
		c                      sfmmodels.Command
		target, action, status string
		executedAt             sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.DeviceID, &c.UserID, &target, &action, &status,
		&executedAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.Target = sfmmodels.Channel(target)
	c.Action = sfmmodels.RelayState(action)
	c.Status = sfmmodels.CommandStatus(status)
	c.ExecutedAt = timePtr(executedAt)
	return &c, nil
}

func (r *PostgresCommandRepository) Create(ctx context.Context, cmd *sfmmodels.Command) (*sfmmodels.Command, error) {
	if cmd.ID == "" {
		cmd.ID = uuid.New().String()
	}
	if cmd.Status == "" {
		cmd.Status = sfmmodels.CommandPending
	}
	cmd.CreatedAt = time.Now()
	cmd.UpdatedAt = cmd.CreatedAt

	query := `
		INSERT INTO commands (id, device_id, user_id, target, action, status, executed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query, cmd.ID, cmd.DeviceID, cmd.UserID, string(cmd.Target),
		string(cmd.Action), string(cmd.Status), nullTime(cmd.ExecutedAt), cmd.CreatedAt, cmd.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return cmd, nil
}

func (r *PostgresCommandRepository) GetByID(ctx context.Context, id string) (*sfmmodels.Command, error) {
	c, err := scanCommand(r.db.QueryRowContext(ctx, commandSelect+` WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return c, err
}

// List commands newest first
func (r *PostgresCommandRepository) List(ctx context.Context, q interfaces.CommandQuery) ([]*sfmmodels.Command, error) {
	b := &queryBuilder{}
	var where []string
	if q.DeviceIDs != nil {
		where = append(where, inClause("device_id", b, q.DeviceIDs))
	}
	if q.Status != nil {
		where = append(where, "status = "+b.arg(string(*q.Status)))
	}
	return r.query(ctx, commandSelect+whereClause(where)+` ORDER BY created_at DESC`, b.args...)
}

// Next returns the oldest command still waiting for the device
func (r *PostgresCommandRepository) Next(ctx context.Context, deviceID string) (*sfmmodels.Command, error) {
	query := commandSelect + ` WHERE device_id = $1 AND status IN ('pending', 'queued') ORDER BY created_at ASC LIMIT 1`
	c, err := scanCommand(r.db.QueryRowContext(ctx, query, deviceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return c, err
}

// UpdateStatus records a status change. A nil executedAt keeps the stored value.
func (r *PostgresCommandRepository) UpdateStatus(ctx context.Context, id string, status sfmmodels.CommandStatus, executedAt *time.Time) (*sfmmodels.Command, error) {
	query := `
		UPDATE commands
		SET status = $1, executed_at = COALESCE($2, executed_at), updated_at = $3
		WHERE id = $4
		RETURNING id, device_id, user_id, target, action, status, executed_at, created_at, updated_at
	`
	c, err := scanCommand(r.db.QueryRowContext(ctx, query, string(status), nullTime(executedAt), time.Now(), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return c, err
}

func (r *PostgresCommandRepository) query(ctx context.Context, query string, args ...interface{}) ([]*sfmmodels.Command, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commands := make([]*sfmmodels.Command, 0)
	for rows.Next() {
		c, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}
	return commands, rows.Err()
}
