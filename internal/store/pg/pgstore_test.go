package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"authgrid.dev/internal/auth"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db), mock
}

func tenantUserRows(lastLogin any) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows([]string{
		"id", "tenant_id", "email", "password_hash", "status", "last_login_at", "created_at", "updated_at",
	}).AddRow("u1", "t1", "jo@example.com", "$2a$12$hash", "active", lastLogin, now, now)
}

func TestFindByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from tenant_users where tenant_id=.* and email=").
		WithArgs("t1", "jo@example.com").
		WillReturnRows(tenantUserRows(nil))

	user, err := store.Users(context.Background()).FindByEmail(context.Background(), "t1", "jo@example.com")
	if err != nil {
		t.Fatalf("find by email: %v", err)
	}
	if user.ID != "u1" || user.PasswordHash != "$2a$12$hash" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if user.LastLoginAt != nil {
		t.Fatalf("expected nil last login, got %v", user.LastLoginAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestFindByEmailNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select .* from tenant_users").
		WithArgs("t1", "nobody@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := store.Users(context.Background()).FindByEmail(context.Background(), "t1", "nobody@example.com")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateIfAbsentInsertsThenSelects(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("insert into tenant_users").
		WithArgs("u1", "t1", "jo@example.com", "hash", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("select .* from tenant_users where tenant_id=.* and email=").
		WithArgs("t1", "jo@example.com").
		WillReturnRows(tenantUserRows(nil))

	user, err := store.Users(context.Background()).CreateIfAbsent(context.Background(), &auth.TenantUser{
		ID: "u1", TenantID: "t1", Email: "jo@example.com", PasswordHash: "hash", Status: "active",
	})
	if err != nil {
		t.Fatalf("create if absent: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("unexpected user: %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateIfAbsentLosingRaceReturnsWinner(t *testing.T) {
	store, mock := newMockStore(t)
	// on conflict do nothing affects zero rows; the follow-up select returns
	// the row that won.
	mock.ExpectExec("insert into tenant_users").
		WithArgs("u-loser", "t1", "jo@example.com", "hash", "active").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select .* from tenant_users").
		WithArgs("t1", "jo@example.com").
		WillReturnRows(tenantUserRows(nil))

	user, err := store.Users(context.Background()).CreateIfAbsent(context.Background(), &auth.TenantUser{
		ID: "u-loser", TenantID: "t1", Email: "jo@example.com", PasswordHash: "hash", Status: "active",
	})
	if err != nil {
		t.Fatalf("create if absent: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("expected winner's record, got %+v", user)
	}
}

func TestUpdatePasswordNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec("update tenant_users set password_hash").
		WithArgs("missing", "newhash").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Users(context.Background()).UpdatePassword(context.Background(), "missing", "newhash")
	if !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAdminActive(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery("select is_active from platform_admins").
		WithArgs("a1").
		WillReturnRows(sqlmock.NewRows([]string{"is_active"}).AddRow(true))

	active, err := store.AdminActive(context.Background(), "a1")
	if err != nil {
		t.Fatalf("admin active: %v", err)
	}
	if !active {
		t.Fatal("expected active admin")
	}

	// An unknown admin is inactive, not an error: the token verifier fails
	// closed either way.
	mock.ExpectQuery("select is_active from platform_admins").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	active, err = store.AdminActive(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("admin active for unknown id: %v", err)
	}
	if active {
		t.Fatal("expected unknown admin to read as inactive")
	}
}

func TestFindAdminByEmail(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()
	mock.ExpectQuery("select .* from platform_admins where email=").
		WithArgs("root@example.com").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "email", "name", "role", "password_hash", "is_active", "created_at", "updated_at",
		}).AddRow("a1", "root@example.com", "Root", "superadmin", "$2a$12$hash", true, now, now))

	admin, err := store.Admins(context.Background()).FindByEmail(context.Background(), "root@example.com")
	if err != nil {
		t.Fatalf("find admin: %v", err)
	}
	if admin.ID != "a1" || !admin.IsActive {
		t.Fatalf("unexpected admin: %+v", admin)
	}
}
