package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"authgrid.dev/internal/auth"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store implements the auth and rbac persistence interfaces on PostgreSQL.
type Store struct {
	db *sql.DB
}

var (
	_ auth.Store          = (*Store)(nil)
	_ auth.AdminDirectory = (*Store)(nil)
)

// Open connects to PostgreSQL with pool defaults tuned for request-scoped
// short transactions.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection pool (used by tests).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Users(context.Context) auth.UserStore   { return &userStore{db: s.db} }
func (s *Store) Admins(context.Context) auth.AdminStore { return &adminStore{db: s.db} }

// AdminActive re-reads the admin's current status for token verification.
func (s *Store) AdminActive(ctx context.Context, adminID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`select is_active from platform_admins where id=$1`, adminID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return active, nil
}

// User store ---------------------------------------------------------------

type userStore struct{ db *sql.DB }

const tenantUserColumns = `id, tenant_id, email, password_hash, status, last_login_at, created_at, updated_at`

func (s *userStore) Find(ctx context.Context, id string) (*auth.TenantUser, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tenantUserColumns+` from tenant_users where id=$1`, id)
	return scanTenantUser(row)
}

func (s *userStore) FindByEmail(ctx context.Context, tenantID, email string) (*auth.TenantUser, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+tenantUserColumns+` from tenant_users where tenant_id=$1 and email=$2`,
		tenantID, email)
	return scanTenantUser(row)
}

// CreateIfAbsent relies on the unique (tenant_id, email) constraint: the
// insert is a no-op on conflict and the follow-up select returns whichever
// row won, so concurrent provisioning races resolve to one record.
func (s *userStore) CreateIfAbsent(ctx context.Context, u *auth.TenantUser) (*auth.TenantUser, error) {
	_, err := s.db.ExecContext(ctx, `
		insert into tenant_users (id, tenant_id, email, password_hash, status)
		values ($1, $2, $3, $4, $5)
		on conflict (tenant_id, email) do nothing
	`, u.ID, u.TenantID, u.Email, u.PasswordHash, u.Status)
	if err != nil {
		return nil, err
	}
	return s.FindByEmail(ctx, u.TenantID, u.Email)
}

func (s *userStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update tenant_users set password_hash=$2, updated_at=now() where id=$1`,
		userID, passwordHash)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (s *userStore) TouchLastLogin(ctx context.Context, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`update tenant_users set last_login_at=now(), updated_at=now() where id=$1`, userID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func scanTenantUser(row *sql.Row) (*auth.TenantUser, error) {
	var (
		u         auth.TenantUser
		hash      sql.NullString
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.TenantID, &u.Email, &hash, &u.Status, &lastLogin, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.PasswordHash = hash.String
	if lastLogin.Valid {
		t := lastLogin.Time
		u.LastLoginAt = &t
	}
	return &u, nil
}

// Admin store --------------------------------------------------------------

type adminStore struct{ db *sql.DB }

const platformAdminColumns = `id, email, name, role, password_hash, is_active, created_at, updated_at`

func (s *adminStore) Find(ctx context.Context, id string) (*auth.PlatformAdmin, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+platformAdminColumns+` from platform_admins where id=$1`, id)
	return scanPlatformAdmin(row)
}

func (s *adminStore) FindByEmail(ctx context.Context, email string) (*auth.PlatformAdmin, error) {
	row := s.db.QueryRowContext(ctx,
		`select `+platformAdminColumns+` from platform_admins where email=$1`, email)
	return scanPlatformAdmin(row)
}

func scanPlatformAdmin(row *sql.Row) (*auth.PlatformAdmin, error) {
	var a auth.PlatformAdmin
	err := row.Scan(&a.ID, &a.Email, &a.Name, &a.Role, &a.PasswordHash, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, auth.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// helpers ------------------------------------------------------------------

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}
