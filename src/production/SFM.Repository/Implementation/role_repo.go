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

type PostgresRoleRepository struct {
	db *sql.DB
}

func NewPostgresRoleRepository(db *sql.DB) *PostgresRoleRepository {
	return &PostgresRoleRepository{db: db}
}

// Create adds a role, keeping the existing row when the name is taken
func (r *PostgresRoleRepository) Create(ctx context.Context, role *auth_models.Role) (*auth_models.Role, error) {
	if role.RoleID == "" {
		role.RoleID = uuid.New().String()
	}
	role.CreatedAt = time.Now()
	role.UpdatedAt = role.CreatedAt

	query := `
		INSERT INTO roles (role_id, name, description, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO NOTHING
	`

	if _, err := r.db.ExecContext(ctx, query, role.RoleID, role.Name,
		role.Description, role.CreatedAt, role.UpdatedAt); err != nil {
		return nil, err
	}

	return role, nil
}

// FindByName finds a role by name
func (r *PostgresRoleRepository) FindByName(ctx context.Context, name string) (*auth_models.Role, error) {
	query := `SELECT role_id, name, description, created_at, updated_at FROM roles WHERE name = $1`

	var role auth_models.Role
	err := r.db.QueryRowContext(ctx, query, name).Scan(&role.RoleID, &role.Name,
		&role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, interfaces.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	return &role, nil
}

// FindAll lists every role by name
func (r *PostgresRoleRepository) FindAll(ctx context.Context) ([]*auth_models.Role, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT role_id, name, description, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	roles := make([]*auth_models.Role, 0)
	for rows.Next() {
		var role auth_models.Role
		if err := rows.Scan(&role.RoleID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, &role)
	}
	return roles, rows.Err()
}
