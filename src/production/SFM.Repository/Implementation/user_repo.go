package implementation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	auth_models "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Models/auth"
	interfaces "gitlab.com/maplesense1/sfm.farm_server/src/production/SFM.Repository/Interfaces"
)

const userSelect = `SELECT user_id, username, email, password, role, active, created_at, updated_at FROM users`

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

func scanUser(row scanner) (*auth_models.User, error) {
	var user auth_models.User
	if err := row.Scan(&user.UserID, &user.Username, &user.Email,
		&user.Password, &user.Role, &user.Active, &user.CreatedAt, &user.UpdatedAt); err != nil {
		return nil, err
	}
	return &user, nil
}

// Create user. Duplicate username or email yields ErrConflict.
func (r *PostgresUserRepository) Create(ctx context.Context, user *auth_models.User) (*auth_models.User, error) {
	if user.UserID == "" {
		user.UserID = uuid.New().String()
	}
	user.CreatedAt = time.Now()
	user.UpdatedAt = user.CreatedAt

	query := `
		INSERT INTO users (user_id, username, email, password, role, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query, user.UserID, user.Username, user.Email,
		user.Password, user.Role, user.Active, user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, interfaces.ErrConflict
		}
		return nil, err
	}

	return user, nil
}

func (r *PostgresUserRepository) getOne(ctx context.Context, where string, arg interface{}) (*auth_models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx, userSelect+` WHERE `+where+` = $1`, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	return user, err
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, userID string) (*auth_models.User, error) {
	return r.getOne(ctx, "user_id", userID)
}

func (r *PostgresUserRepository) GetByUsername(ctx context.Context, username string) (*auth_models.User, error) {
	return r.getOne(ctx, "username", username)
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*auth_models.User, error) {
	return r.getOne(ctx, "email", email)
}

func (r *PostgresUserRepository) GetAll(ctx context.Context) ([]*auth_models.User, error) {
	return r.list(ctx, userSelect+` ORDER BY created_at DESC`)
}

// GetByRole retrieves users by role
func (r *PostgresUserRepository) GetByRole(ctx context.Context, role string) ([]*auth_models.User, error) {
	return r.list(ctx, userSelect+` WHERE role = $1 ORDER BY created_at DESC`, role)
}

func (r *PostgresUserRepository) list(ctx context.Context, query string, args ...interface{}) ([]*auth_models.User, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]*auth_models.User, 0)
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// Update user
func (r *PostgresUserRepository) Update(ctx context.Context, user *auth_models.User) error {
	user.UpdatedAt = time.Now()

	query := `
		UPDATE users
		SET username = $1, email = $2, password = $3, role = $4, active = $5, updated_at = $6
		WHERE user_id = $7
	`

	result, err := r.db.ExecContext(ctx, query, user.Username, user.Email, user.Password,
		user.Role, user.Active, user.UpdatedAt, user.UserID)
	if err != nil {
		if isUniqueViolation(err) {
			return interfaces.ErrConflict
		}
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

// Delete user. Owned devices go with the user through ON DELETE CASCADE.
func (r *PostgresUserRepository) Delete(ctx context.Context, userID string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE user_id = $1`, userID)
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
