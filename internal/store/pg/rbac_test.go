package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"authgrid.dev/internal/rbac"
)

func roleRows(id, tenantID, name, permsJSON string, system bool) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "description", "permissions", "is_system_role", "created_at", "updated_at",
	}).AddRow(id, tenantID, name, "", []byte(permsJSON), system, now, now)
}

func TestCreateRoleUniqueViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into tenant_roles").
		WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := store.CreateRole(context.Background(), &rbac.Role{
		ID: "r1", TenantID: "t1", Name: "Editor", Permissions: []string{"a.x"},
	})
	if !errors.Is(err, rbac.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestGetRoleDecodesPermissions(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from tenant_roles where id=").
		WithArgs("r1").
		WillReturnRows(roleRows("r1", "t1", "Editor", `["invoices.read","invoices.write"]`, false))

	role, err := store.GetRole(context.Background(), "r1")
	if err != nil {
		t.Fatalf("get role: %v", err)
	}
	if len(role.Permissions) != 2 || role.Permissions[0] != "invoices.read" {
		t.Fatalf("unexpected permissions: %v", role.Permissions)
	}
}

func TestRolesForUser(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "tenant_id", "name", "description", "permissions", "is_system_role", "created_at", "updated_at",
	}).
		AddRow("r1", "t1", "Viewer", "", []byte(`["invoices.read"]`), true, now, now).
		AddRow("r2", "t1", "Editor", "", []byte(`["invoices.write"]`), false, now, now)
	mock.ExpectQuery("join user_roles ur on ur.role_id = r.id").
		WithArgs("u1", "t1").
		WillReturnRows(rows)

	roles, err := store.RolesForUser(context.Background(), "t1", "u1")
	if err != nil {
		t.Fatalf("roles for user: %v", err)
	}
	if len(roles) != 2 {
		t.Fatalf("expected 2 roles, got %d", len(roles))
	}
	if !roles[0].IsSystemRole || roles[1].IsSystemRole {
		t.Fatalf("system role flags lost: %+v %+v", roles[0], roles[1])
	}
}

func TestDeleteRoleNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("delete from tenant_roles where id=").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DeleteRole(context.Background(), "missing"); !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAssignRoleForeignKeyViolation(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into user_roles").
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	err := store.AssignRole(context.Background(), rbac.Assignment{UserID: "ghost", RoleID: "r1", TenantID: "t1"})
	if !errors.Is(err, rbac.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListTemplates(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("from permission_templates").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "description", "permissions", "business_types", "is_default", "created_at",
		}).AddRow("tpl-1", "Standard", "", []byte(`["invoices.read"]`), []byte(`["retail"]`), true, now))

	templates, err := store.ListTemplates(context.Background())
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 1 || templates[0].Name != "Standard" {
		t.Fatalf("unexpected templates: %+v", templates)
	}
	if len(templates[0].BusinessTypes) != 1 || templates[0].BusinessTypes[0] != "retail" {
		t.Fatalf("business types lost: %+v", templates[0])
	}
}
