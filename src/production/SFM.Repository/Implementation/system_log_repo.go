package implementation

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	sfmmodels "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models"
)

type PostgresSystemLogRepository struct {
	db *sql.DB
}

func NewPostgresSystemLogRepository(db *sql.DB) *PostgresSystemLogRepository {
	return &PostgresSystemLogRepository{db: db}
}

func (r *PostgresSystemLogRepository) Create(ctx context.Context, entry *sfmmodels.SystemLog) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO system_logs (id, actor, action, details, timestamp) VALUES ($1, $2, $3, $4, $5)`,
		entry.ID, string(entry.Actor), entry.Action, entry.Details, entry.Timestamp)
	return err
}

func (r *PostgresSystemLogRepository) ListRecent(ctx context.Context, limit int) ([]*sfmmodels.SystemLog, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, actor, action, details, timestamp FROM system_logs ORDER BY timestamp DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]*sfmmodels.SystemLog, 0)
	for rows.Next() {
		var (
			entry sfmmodels.SystemLog
			actor string
		)
		if err := rows.Scan(&entry.ID, &actor, &entry.Action, &entry.Details, &entry.Timestamp); err != nil {
			return nil, err
		}
		entry.Actor = sfmmodels.Actor(actor)
		logs = append(logs, &entry)
	}
	return logs, rows.Err()
}
