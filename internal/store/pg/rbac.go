package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"authgrid.dev/internal/rbac"
)

var _ rbac.Store = (*Store)(nil)

// Permissions live as jsonb arrays on the role row; the engine treats them
// as opaque string sets, so no join table is needed.

const roleColumns = `id, tenant_id, name, description, permissions, is_system_role, created_at, updated_at`

func (s *Store) CreateRole(ctx context.Context, role *rbac.Role) error {
	perms, err := marshalPermissions(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into tenant_roles (id, tenant_id, name, description, permissions, is_system_role)
		values ($1, $2, $3, $4, $5, $6)
	`, role.ID, role.TenantID, role.Name, role.Description, perms, role.IsSystemRole)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
		return fmt.Errorf("%w: role %q already exists in tenant", rbac.ErrInvalidInput, role.Name)
	}
	return err
}

func (s *Store) GetRole(ctx context.Context, roleID string) (*rbac.Role, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+roleColumns+` from tenant_roles where id=$1`, roleID)
	return scanRole(row.Scan)
}

func (s *Store) ListRoles(ctx context.Context, tenantID string) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+roleColumns+` from tenant_roles where tenant_id=$1 order by created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *Store) UpdateRole(ctx context.Context, roleID string, upd rbac.RoleUpdate) (*rbac.Role, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	if upd.Name != nil {
		if _, err := tx.ExecContext(ctx,
			`update tenant_roles set name=$2, updated_at=now() where id=$1`, roleID, *upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Description != nil {
		if _, err := tx.ExecContext(ctx,
			`update tenant_roles set description=$2, updated_at=now() where id=$1`, roleID, *upd.Description); err != nil {
			return nil, err
		}
	}
	if upd.Permissions != nil {
		perms, err := marshalPermissions(upd.Permissions)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx,
			`update tenant_roles set permissions=$2, updated_at=now() where id=$1`, roleID, perms); err != nil {
			return nil, err
		}
	}

	row := tx.QueryRowContext(ctx,
		`select `+roleColumns+` from tenant_roles where id=$1`, roleID)
	role, err := scanRole(row.Scan)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return role, nil
}

func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	res, err := s.db.ExecContext(ctx, `delete from tenant_roles where id=$1`, roleID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rbac.ErrNotFound
	}
	return nil
}

func (s *Store) AssignRole(ctx context.Context, a rbac.Assignment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into user_roles (user_id, role_id, tenant_id)
		values ($1, $2, $3)
		on conflict do nothing
	`, a.UserID, a.RoleID, a.TenantID)
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return rbac.ErrNotFound
	}
	return err
}

func (s *Store) RemoveAssignment(ctx context.Context, userID, roleID string) error {
	_, err := s.db.ExecContext(ctx,
		`delete from user_roles where user_id=$1 and role_id=$2`, userID, roleID)
	return err
}

func (s *Store) RolesForUser(ctx context.Context, tenantID, userID string) ([]*rbac.Role, error) {
	rows, err := s.db.QueryContext(ctx, `
		select r.id, r.tenant_id, r.name, r.description, r.permissions, r.is_system_role, r.created_at, r.updated_at
		from tenant_roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id=$1 and r.tenant_id=$2
		order by r.created_at
	`, userID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*rbac.Role
	for rows.Next() {
		role, err := scanRole(rows.Scan)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// Catalog ------------------------------------------------------------------

func (s *Store) ListTemplates(ctx context.Context) ([]*rbac.PermissionTemplate, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, permissions, business_types, is_default, created_at
		from permission_templates order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.PermissionTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, tpl)
	}
	return out, rows.Err()
}

func (s *Store) GetTemplate(ctx context.Context, id string) (*rbac.PermissionTemplate, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, permissions, business_types, is_default, created_at
		from permission_templates where id=$1
	`, id)
	return scanTemplate(row.Scan)
}

func (s *Store) ListBusinessTypes(ctx context.Context) ([]*rbac.BusinessType, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, name, description, default_permissions, is_default, created_at
		from business_types order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*rbac.BusinessType
	for rows.Next() {
		bt, err := scanBusinessType(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	return out, rows.Err()
}

func (s *Store) GetBusinessType(ctx context.Context, id string) (*rbac.BusinessType, error) {
	row := s.db.QueryRowContext(ctx, `
		select id, name, description, default_permissions, is_default, created_at
		from business_types where id=$1
	`, id)
	return scanBusinessType(row.Scan)
}

// scan helpers -------------------------------------------------------------

type scanFunc func(dest ...any) error

func scanRole(scan scanFunc) (*rbac.Role, error) {
	var (
		role  rbac.Role
		perms []byte
	)
	err := scan(&role.ID, &role.TenantID, &role.Name, &role.Description, &perms, &role.IsSystemRole, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalStrings(perms, &role.Permissions); err != nil {
		return nil, fmt.Errorf("decode role permissions: %w", err)
	}
	return &role, nil
}

func scanTemplate(scan scanFunc) (*rbac.PermissionTemplate, error) {
	var (
		tpl         rbac.PermissionTemplate
		perms       []byte
		businessRaw []byte
	)
	err := scan(&tpl.ID, &tpl.Name, &tpl.Description, &perms, &businessRaw, &tpl.IsDefault, &tpl.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalStrings(perms, &tpl.Permissions); err != nil {
		return nil, fmt.Errorf("decode template permissions: %w", err)
	}
	if err := unmarshalStrings(businessRaw, &tpl.BusinessTypes); err != nil {
		return nil, fmt.Errorf("decode template business types: %w", err)
	}
	return &tpl, nil
}

func scanBusinessType(scan scanFunc) (*rbac.BusinessType, error) {
	var (
		bt    rbac.BusinessType
		perms []byte
	)
	err := scan(&bt.ID, &bt.Name, &bt.Description, &perms, &bt.IsDefault, &bt.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, rbac.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := unmarshalStrings(perms, &bt.DefaultPermissions); err != nil {
		return nil, fmt.Errorf("decode default permissions: %w", err)
	}
	return &bt, nil
}

func marshalPermissions(perms []string) ([]byte, error) {
	if perms == nil {
		perms = []string{}
	}
	return json.Marshal(perms)
}

func unmarshalStrings(raw []byte, dst *[]string) error {
	if len(raw) == 0 {
		*dst = nil
		return nil
	}
	return json.Unmarshal(raw, dst)
}
