// internal/storage/postgres/users.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/NoimitLi/smart-campus-server/internal/storage"
	"github.com/NoimitLi/smart-campus-server/pkg/logger"
)

type userRepo struct {
	db  *pgxpool.Pool
	log *logger.Logger
}

// NewUserDirectory возвращает UserDirectory поверх pgx-пула.
func NewUserDirectory(db *pgxpool.Pool, log *logger.Logger) storage.UserDirectory {
	return &userRepo{db: db, log: log.Named("users")}
}

const userColumns = `id, account, username, nickname, avatar, phone, password_hash, last_active_at, created_at`

func (r *userRepo) FindByUsername(ctx context.Context, username string) (*storage.User, error) {
	ctx, span := otel.Tracer("storage/users").Start(ctx, "FindByUsername",
		trace.WithAttributes(attribute.String("username", username)))
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE username = $1 OR account = $1`, username)
	return scanUser(row)
}

func (r *userRepo) FindByPhone(ctx context.Context, phone string) (*storage.User, error) {
	ctx, span := otel.Tracer("storage/users").Start(ctx, "FindByPhone")
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE phone = $1`, phone)
	return scanUser(row)
}

func (r *userRepo) FindByID(ctx context.Context, id string) (*storage.User, error) {
	ctx, span := otel.Tracer("storage/users").Start(ctx, "FindByID",
		trace.WithAttributes(attribute.String("user_id", id)))
	defer span.End()

	row := r.db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

func (r *userRepo) RoleAndPermissions(ctx context.Context, userID string) (*storage.Role, []string, error) {
	ctx, span := otel.Tracer("storage/users").Start(ctx, "RoleAndPermissions",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	var role storage.Role
	err := r.db.QueryRow(ctx, `
		SELECT r.id, r.name, r.code
		FROM roles r
		JOIN user_roles ur ON ur.role_id = r.id
		WHERE ur.user_id = $1
	`, userID).Scan(&role.ID, &role.Name, &role.Code)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, nil
	}
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("role query: %w", err)
	}

	rows, err := r.db.Query(ctx, `
		SELECT p.code
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id
		WHERE rp.role_id = $1
		ORDER BY p.code
	`, role.ID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, fmt.Errorf("permissions query: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, nil, fmt.Errorf("permissions scan: %w", err)
		}
		perms = append(perms, code)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("permissions rows: %w", err)
	}
	return &role, perms, nil
}

func (r *userRepo) TouchLastActive(ctx context.Context, userID string, at time.Time) error {
	ctx, span := otel.Tracer("storage/users").Start(ctx, "TouchLastActive",
		trace.WithAttributes(attribute.String("user_id", userID)))
	defer span.End()

	_, err := r.db.Exec(ctx,
		`UPDATE users SET last_active_at = $2 WHERE id = $1`, userID, at.UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("touch last active: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*storage.User, error) {
	var u storage.User
	err := row.Scan(&u.ID, &u.Account, &u.Username, &u.Nickname, &u.Avatar,
		&u.Phone, &u.PasswordHash, &u.LastActiveAt, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("user scan: %w", err)
	}
	return &u, nil
}
