package authroles

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	domainauth "github.com/driptech/admin-session/internal/domain/auth"
	apperrors "github.com/driptech/admin-session/internal/errors"
	"github.com/driptech/admin-session/internal/ports"
)

var _ ports.RoleResolver = (*PostgresResolver)(nil)

// psq is the PostgreSQL statement builder with dollar placeholders.
var psq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

const rolesTable = "user_roles"

// PostgresResolver reads roles from the user_roles table.
type PostgresResolver struct {
	db *sql.DB
}

// NewPostgresResolver creates a resolver over db.
func NewPostgresResolver(db *sql.DB) *PostgresResolver {
	return &PostgresResolver{db: db}
}

// Roles returns every role row for userID. Unknown role strings are returned
// as-is; callers decide privilege with domainauth.HighestRole.
func (r *PostgresResolver) Roles(ctx context.Context, userID string) ([]domainauth.Role, error) {
	if userID == "" {
		return nil, nil
	}
	query, args, err := psq.Select("role").
		From(rolesTable).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("role").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build roles query: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.MapDBError(err)
	}
	defer func() { _ = rows.Close() }()

	var roles []domainauth.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		roles = append(roles, domainauth.ParseRole(role))
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.MapDBError(err)
	}
	return roles, nil
}

// Grant gives userID role. Granting an existing role is a no-op.
func (r *PostgresResolver) Grant(ctx context.Context, userID string, role domainauth.Role) error {
	if userID == "" {
		return apperrors.Validation("user ID is required")
	}
	if !role.Privileged() {
		return apperrors.Validation(fmt.Sprintf("unknown role %q", role))
	}
	query, args, err := psq.Insert(rolesTable).
		Columns("user_id", "role").
		Values(userID, string(role)).
		Suffix("ON CONFLICT (user_id, role) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build grant query: %w", err)
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return apperrors.MapDBError(err)
	}
	return nil
}

// Revoke removes role from userID. It reports NotFound when nothing was removed.
func (r *PostgresResolver) Revoke(ctx context.Context, userID string, role domainauth.Role) error {
	query, args, err := psq.Delete(rolesTable).
		Where(sq.Eq{"user_id": userID, "role": string(role)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build revoke query: %w", err)
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.MapDBError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperrors.MapDBError(sql.ErrNoRows)
	}
	return nil
}

