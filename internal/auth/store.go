package auth

import "context"

// UserStore is the persistence collaborator for accounts. Update must be
// atomic per account: a stale write (the account changed since it was read)
// returns ErrConcurrencyConflict instead of silently losing the race.
// Lookups return ErrNotFound when nothing matches.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByUsername(ctx context.Context, username string) (*Account, error)
	FindByEmail(ctx context.Context, email string) (*Account, error)
	Create(ctx context.Context, account *Account) error
	Update(ctx context.Context, account *Account) error
}
