package gourdiansession

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Account is the stored user record a session identifier resolves to.
type Account struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name,omitempty"`
	Email     string     `json:"email"`
	Role      string     `json:"role"`
	CreatedAt time.Time  `json:"created_at"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// IdentityResolver maps a verified session identifier to an account.
// Implementations return ErrAccountNotFound for unknown or deleted accounts.
type IdentityResolver interface {
	ResolveIdentity(ctx context.Context, identifier string) (*Account, error)
}

// IdentityResolverFunc adapts a function to IdentityResolver.
type IdentityResolverFunc func(ctx context.Context, identifier string) (*Account, error)

func (f IdentityResolverFunc) ResolveIdentity(ctx context.Context, identifier string) (*Account, error) {
	return f(ctx, identifier)
}

// MemoryIdentityResolver resolves accounts held in memory, keyed by email.
type MemoryIdentityResolver struct {
	mu       sync.RWMutex
	accounts map[string]Account
}

func NewMemoryIdentityResolver(accounts ...Account) *MemoryIdentityResolver {
	r := &MemoryIdentityResolver{accounts: make(map[string]Account, len(accounts))}
	for _, a := range accounts {
		r.accounts[normalizeEmail(a.Email)] = a
	}
	return r
}

// Put inserts or replaces an account, assigning an ID when it has none.
func (r *MemoryIdentityResolver) Put(account Account) Account {
	if account.ID == uuid.Nil {
		account.ID = uuid.New()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[normalizeEmail(account.Email)] = account
	return account
}

func (r *MemoryIdentityResolver) ResolveIdentity(ctx context.Context, identifier string) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	account, ok := r.accounts[normalizeEmail(identifier)]
	if !ok || account.DeletedAt != nil {
		return nil, ErrAccountNotFound
	}
	return &account, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
