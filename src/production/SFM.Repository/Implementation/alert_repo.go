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

const alertRuleColumns = `id, device_id, metric, min_threshold, max_threshold, enabled, notification_type, cooldown_minutes, last_alert_time, created_at, updated_at`

type PostgresAlertRuleRepository struct {
	db *sql.DB
}

func NewPostgresAlertRuleRepository(db *sql.DB) *PostgresAlertRuleRepository {
	return &PostgresAlertRuleRepository{db: db}
}

func scanAlertRule(row scanner) (*sfmmodels.AlertRule, error) {
	var (
		rule             sfmmodels.AlertRule
		minT, maxT       sql.NullFloat64
		notificationType string
		lastAlert        sql.NullTime
	)
	if err := row.Scan(&rule.ID, &rule.DeviceID, &rule.Metric, &minT, &maxT, &rule.Enabled,
		&notificationType, &rule.CooldownMinutes, &lastAlert, &rule.CreatedAt, &rule.UpdatedAt); err != nil {
		return nil, err
	}
	rule.MinThreshold = floatPtr(minT)
	rule.MaxThreshold = floatPtr(maxT)
	rule.NotificationType = sfmmodels.NotificationType(notificationType)
	rule.LastAlertTime = timePtr(lastAlert)
	return &rule, nil
}

// Create rule. The (device_id, metric) unique index turns duplicates into ErrConflict.
func (r *PostgresAlertRuleRepository) Create(ctx context.Context, rule *sfmmodels.AlertRule) (*sfmmodels.AlertRule, error) {
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.CooldownMinutes < 0 {
		rule.CooldownMinutes = 0
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	query := `
		INSERT INTO alert_rules (` + alertRuleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query, rule.ID, rule.DeviceID, rule.Metric,
		nullFloat(rule.MinThreshold), nullFloat(rule.MaxThreshold), rule.Enabled,
		string(rule.NotificationType), rule.CooldownMinutes, nullTime(rule.LastAlertTime),
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, interfaces.ErrConflict
		}
		return nil, err
	}
	return rule, nil
}

func (r *PostgresAlertRuleRepository) GetByID(ctx context.Context, id string) (*sfmmodels.AlertRule, error) {
	rule, err := scanAlertRule(r.db.QueryRowContext(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return rule, err
}

func (r *PostgresAlertRuleRepository) List(ctx context.Context, deviceIDs []string) ([]*sfmmodels.AlertRule, error) {
	b := &queryBuilder{}
	var where []string
	if deviceIDs != nil {
		where = append(where, inClause("device_id", b, deviceIDs))
	}
	return r.query(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules`+whereClause(where)+` ORDER BY created_at DESC`, b.args...)
}

// ListEnabledByDevice feeds the alert evaluator
func (r *PostgresAlertRuleRepository) ListEnabledByDevice(ctx context.Context, deviceID string) ([]*sfmmodels.AlertRule, error) {
	return r.query(ctx, `SELECT `+alertRuleColumns+` FROM alert_rules WHERE device_id = $1 AND enabled = true`, deviceID)
}

func (r *PostgresAlertRuleRepository) Update(ctx context.Context, id string, update sfmmodels.AlertRuleUpdate) (*sfmmodels.AlertRule, error) {
	b := &queryBuilder{}
	if update.ClearMin {
		b.expr("min_threshold = NULL")
	} else if update.MinThreshold != nil {
		b.set("min_threshold", *update.MinThreshold)
	}
	if update.ClearMax {
		b.expr("max_threshold = NULL")
	} else if update.MaxThreshold != nil {
		b.set("max_threshold", *update.MaxThreshold)
	}
	if update.Enabled != nil {
		b.set("enabled", *update.Enabled)
	}
	if update.NotificationType != nil {
		b.set("notification_type", string(*update.NotificationType))
	}
	if update.CooldownMinutes != nil {
		b.set("cooldown_minutes", *update.CooldownMinutes)
	}
	b.set("updated_at", time.Now())

	query := `UPDATE alert_rules SET ` + b.clause() + ` WHERE id = ` + b.arg(id) + ` RETURNING ` + alertRuleColumns
	rule, err := scanAlertRule(r.db.QueryRowContext(ctx, query, b.args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return rule, err
}

func (r *PostgresAlertRuleRepository) MarkAlerted(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE alert_rules SET last_alert_time = $1, updated_at = $1 WHERE id = $2`, at, id)
	return err
}

func (r *PostgresAlertRuleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM alert_rules WHERE id = $1`, id)
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

func (r *PostgresAlertRuleRepository) query(ctx context.Context, query string, args ...interface{}) ([]*sfmmodels.AlertRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rules := make([]*sfmmodels.AlertRule, 0)
	for rows.Next() {
		rule, err := scanAlertRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

const alertColumns = `id, device_id, type, message, timestamp, read, created_at`

type PostgresAlertRepository struct {
	db *sql.DB
}

func NewPostgresAlertRepository(db *sql.DB) *PostgresAlertRepository {
	return &PostgresAlertRepository{db: db}
}

func scanAlert(row scanner) (*sfmmodels.Alert, error) {
	var (
		a         sfmmodels.Alert
		alertType string
	)
	if err := row.Scan(&a.ID, &a.DeviceID, &alertType, &a.Message, &a.Timestamp, &a.Read, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.Type = sfmmodels.AlertType(alertType)
	return &a, nil
}

func (r *PostgresAlertRepository) Create(ctx context.Context, alert *sfmmodels.Alert) (*sfmmodels.Alert, error) {
	if alert.ID == "" {
		alert.ID = uuid.New().String()
	}
	if alert.Type == "" {
		alert.Type = sfmmodels.AlertWarning
	}
	alert.CreatedAt = time.Now()
	if alert.Timestamp.IsZero() {
		alert.Timestamp = alert.CreatedAt
	}

	query := `INSERT INTO alerts (` + alertColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.ExecContext(ctx, query, alert.ID, alert.DeviceID, string(alert.Type), alert.Message,
		alert.Timestamp, alert.Read, alert.CreatedAt)
	if err != nil {
		return nil, err
	}
	return alert, nil
}

func (r *PostgresAlertRepository) GetByID(ctx context.Context, id string) (*sfmmodels.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return a, err
}

// List alerts newest first
func (r *PostgresAlertRepository) List(ctx context.Context, q sfmmodels.AlertQuery) ([]*sfmmodels.Alert, error) {
	b := &queryBuilder{}
	var where []string
	if q.DeviceIDs != nil {
		where = append(where, inClause("device_id", b, q.DeviceIDs))
	}
	if q.Read != nil {
		where = append(where, "read = "+b.arg(*q.Read))
	}

	rows, err := r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts`+whereClause(where)+` ORDER BY timestamp DESC`, b.args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alerts := make([]*sfmmodels.Alert, 0)
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *PostgresAlertRepository) MarkRead(ctx context.Context, id string) (*sfmmodels.Alert, error) {
	a, err := scanAlert(r.db.QueryRowContext(ctx, `UPDATE alerts SET read = true WHERE id = $1 RETURNING `+alertColumns, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return a, err
}
