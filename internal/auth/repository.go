package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Repository is the Postgres UserStore. Every account mutation goes through
// Update, which is guarded by the version column: a write against a stale
// version touches zero rows and surfaces ErrConcurrencyConflict.
type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const accountColumns = `
	id, username, email, phone, password_hash, role, email_confirmed,
	failed_login_count, lockout_until,
	refresh_token, refresh_token_expires_at,
	confirm_code, confirm_code_expires_at,
	reset_code, reset_code_expires_at,
	pending_phone, phone_change_code, phone_change_code_expires_at,
	version, created_at, updated_at`

func (r *Repository) FindByID(ctx context.Context, id string) (*Account, error) {
	return r.findBy(ctx, "id", id)
}

func (r *Repository) FindByUsername(ctx context.Context, username string) (*Account, error) {
	return r.findBy(ctx, "username", username)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	return r.findBy(ctx, "email", email)
}

func (r *Repository) findBy(ctx context.Context, column, value string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM accounts WHERE %s = $1`, accountColumns, column)

	account, err := scanAccount(r.db.QueryRowContext(ctx, query, value))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query account by %s: %w", column, err)
	}

	return account, nil
}

func (r *Repository) Create(ctx context.Context, account *Account) error {
	now := time.Now().UTC()
	account.Version = 1
	account.CreatedAt = now
	account.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)
	`,
		account.ID, account.Username, account.Email, account.Phone,
		account.PasswordHash, string(account.Role), account.EmailConfirmed,
		account.FailedLoginCount, nullTime(account.LockoutUntil),
		nullString(account.RefreshToken), nullTime(account.RefreshTokenExpiry),
		nullString(account.ConfirmCode), nullTime(account.ConfirmCodeExpiry),
		nullString(account.ResetCode), nullTime(account.ResetCodeExpiry),
		nullString(account.PendingPhone), nullString(account.PhoneChangeCode), nullTime(account.PhoneChangeCodeExpiry),
		account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert account: %w", err)
	}

	return nil
}

func (r *Repository) Update(ctx context.Context, account *Account) error {
	now := time.Now().UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE accounts SET
			username = $2, email = $3, phone = $4, password_hash = $5,
			role = $6, email_confirmed = $7,
			failed_login_count = $8, lockout_until = $9,
			refresh_token = $10, refresh_token_expires_at = $11,
			confirm_code = $12, confirm_code_expires_at = $13,
			reset_code = $14, reset_code_expires_at = $15,
			pending_phone = $16, phone_change_code = $17, phone_change_code_expires_at = $18,
			version = version + 1, updated_at = $19
		WHERE id = $1 AND version = $20
	`,
		account.ID, account.Username, account.Email, account.Phone, account.PasswordHash,
		string(account.Role), account.EmailConfirmed,
		account.FailedLoginCount, nullTime(account.LockoutUntil),
		nullString(account.RefreshToken), nullTime(account.RefreshTokenExpiry),
		nullString(account.ConfirmCode), nullTime(account.ConfirmCodeExpiry),
		nullString(account.ResetCode), nullTime(account.ResetCodeExpiry),
		nullString(account.PendingPhone), nullString(account.PhoneChangeCode), nullTime(account.PhoneChangeCodeExpiry),
		now, account.Version,
	)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update account rows affected: %w", err)
	}
	if affected == 0 {
		return ErrConcurrencyConflict
	}

	account.Version++
	account.UpdatedAt = now

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (*Account, error) {
	var (
		account      Account
		role         string
		lockoutUntil sql.NullTime

		refreshToken       sql.NullString
		refreshTokenExpiry sql.NullTime

		confirmCode       sql.NullString
		confirmCodeExpiry sql.NullTime
		resetCode         sql.NullString
		resetCodeExpiry   sql.NullTime

		pendingPhone          sql.NullString
		phoneChangeCode       sql.NullString
		phoneChangeCodeExpiry sql.NullTime
	)

	err := row.Scan(
		&account.ID, &account.Username, &account.Email, &account.Phone,
		&account.PasswordHash, &role, &account.EmailConfirmed,
		&account.FailedLoginCount, &lockoutUntil,
		&refreshToken, &refreshTokenExpiry,
		&confirmCode, &confirmCodeExpiry,
		&resetCode, &resetCodeExpiry,
		&pendingPhone, &phoneChangeCode, &phoneChangeCodeExpiry,
		&account.Version, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Role = Role(role)
	account.LockoutUntil = timePtr(lockoutUntil)
	account.RefreshToken = stringPtr(refreshToken)
	account.RefreshTokenExpiry = timePtr(refreshTokenExpiry)
	account.ConfirmCode = stringPtr(confirmCode)
	account.ConfirmCodeExpiry = timePtr(confirmCodeExpiry)
	account.ResetCode = stringPtr(resetCode)
	account.ResetCodeExpiry = timePtr(resetCodeExpiry)
	account.PendingPhone = stringPtr(pendingPhone)
	account.PhoneChangeCode = stringPtr(phoneChangeCode)
	account.PhoneChangeCodeExpiry = timePtr(phoneChangeCodeExpiry)

	return &account, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}

func nullTime(value *time.Time) sql.NullTime {
	if value == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value.UTC(), Valid: true}
}

func stringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func timePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	utc := value.Time.UTC()
	return &utc
}
