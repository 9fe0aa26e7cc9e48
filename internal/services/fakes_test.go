package services

import (
	"context"
	"sync"
	"time"

	"github.com/userhub/apiserver/internal/store"
	"github.com/userhub/apiserver/types"
)

// memDB backs the in-memory repository fakes used by the service tests.
// All three fakes share one instance so cross-entity lookups (token
// owner usernames, credential history) behave like the real store.
type memDB struct {
	mu          sync.Mutex
	nextID      int64
	accounts    map[int64]types.Account
	credentials []types.Credential
	tokens      map[int64]types.AuthenticationToken
}

func newMemDB() *memDB {
	return &memDB{
		accounts: make(map[int64]types.Account),
		tokens:   make(map[int64]types.AuthenticationToken),
	}
}

func (db *memDB) nextSequence() int64 {
	db.nextID++
	return db.nextID
}

func (db *memDB) findByUsername(username string) (types.Account, bool) {
	for _, account := range db.accounts {
		if account.Username == username && account.DeletedAt == nil {
			return account, true
		}
	}
	return types.Account{}, false
}

type memAccounts struct{ db *memDB }

func (m *memAccounts) GetByUsername(ctx context.Context, username string) (types.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	account, ok := m.db.findByUsername(username)
	if !ok {
		return types.Account{}, store.ErrNotFound
	}
	account.Roles = append([]types.Role(nil), account.Roles...)
	return account, nil
}

func (m *memAccounts) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, account := range m.db.accounts {
		if account.Username == username {
			return true, nil
		}
	}
	return false, nil
}

func (m *memAccounts) Create(ctx context.Context, account types.Account, passwordHash string) (types.Account, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	for _, existing := range m.db.accounts {
		if existing.Username == account.Username {
			return types.Account{}, store.ErrDuplicate
		}
	}
	account.ID = m.db.nextSequence()
	now := time.Now()
	account.CreatedAt = now
	account.UpdatedAt = now
	m.db.accounts[account.ID] = account
	m.db.credentials = append(m.db.credentials, types.Credential{
		ID:           m.db.nextSequence(),
		AccountID:    account.ID,
		PasswordHash: passwordHash,
		CreatedAt:    now,
	})
	return account, nil
}

func (m *memAccounts) UpdateUsername(ctx context.Context, id int64, username string) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	account, ok := m.db.accounts[id]
	if !ok || account.DeletedAt != nil {
		return store.ErrNotFound
	}
	for _, existing := range m.db.accounts {
		if existing.ID != id && existing.Username == username {
			return store.ErrDuplicate
		}
	}
	account.Username = username
	account.UpdatedAt = time.Now()
	m.db.accounts[id] = account
	return nil
}

func (m *memAccounts) ReplaceRoles(ctx context.Context, id int64, roles []types.Role) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	account, ok := m.db.accounts[id]
	if !ok {
		return store.ErrNotFound
	}
	account.Roles = append([]types.Role(nil), roles...)
	m.db.accounts[id] = account
	return nil
}

func (m *memAccounts) SoftDelete(ctx context.Context, id int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	account, ok := m.db.accounts[id]
	if !ok || account.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now()
	account.DeletedAt = &now
	m.db.accounts[id] = account
	for tokenID, token := range m.db.tokens {
		if token.AccountID == id {
			token.Valid = false
			m.db.tokens[tokenID] = token
		}
	}
	return nil
}

type memCredentials struct{ db *memDB }

func (m *memCredentials) GetCurrentByAccount(ctx context.Context, accountID int64) (types.Credential, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	var current types.Credential
	found := false
	for _, credential := range m.db.credentials {
		if credential.AccountID != accountID {
			continue
		}
		if !found || credential.CreatedAt.After(current.CreatedAt) ||
			(credential.CreatedAt.Equal(current.CreatedAt) && credential.ID > current.ID) {
			current = credential
			found = true
		}
	}
	if !found {
		return types.Credential{}, store.ErrNotFound
	}
	return current, nil
}

func (m *memCredentials) Create(ctx context.Context, accountID int64, passwordHash string) (types.Credential, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	credential := types.Credential{
		ID:           m.db.nextSequence(),
		AccountID:    accountID,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now(),
	}
	m.db.credentials = append(m.db.credentials, credential)
	return credential, nil
}

func (m *memCredentials) count(accountID int64) int {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	n := 0
	for _, credential := range m.db.credentials {
		if credential.AccountID == accountID {
			n++
		}
	}
	return n
}

type memTokens struct{ db *memDB }

func (m *memTokens) GetByID(ctx context.Context, id int64) (types.AuthenticationToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	token, ok := m.db.tokens[id]
	if !ok {
		return types.AuthenticationToken{}, store.ErrNotFound
	}
	token.OwnerUsername = m.db.accounts[token.AccountID].Username
	return token, nil
}

func (m *memTokens) ExistsByID(ctx context.Context, id int64) (bool, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	_, ok := m.db.tokens[id]
	return ok, nil
}

func (m *memTokens) Create(ctx context.Context, token types.AuthenticationToken) (types.AuthenticationToken, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.db.tokens[token.ID]; ok {
		return types.AuthenticationToken{}, store.ErrDuplicate
	}
	token.CreatedAt = time.Now()
	m.db.tokens[token.ID] = token
	return token, nil
}

func (m *memTokens) Blacklist(ctx context.Context, id int64) error {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	token, ok := m.db.tokens[id]
	if !ok {
		return nil
	}
	token.Valid = false
	m.db.tokens[id] = token
	return nil
}

func (m *memTokens) ListByOwner(ctx context.Context, accountID int64, offset, limit int) ([]types.AuthenticationToken, int, error) {
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	active := make([]types.AuthenticationToken, 0)
	for _, token := range m.db.tokens {
		if token.AccountID == accountID && token.Valid {
			token.OwnerUsername = m.db.accounts[token.AccountID].Username
			active = append(active, token)
		}
	}
	total := len(active)
	if offset >= len(active) {
		return nil, total, nil
	}
	active = active[offset:]
	if limit < len(active) {
		active = active[:limit]
	}
	return active, total, nil
}

// racingAccounts wraps memAccounts and simulates losing a username race:
// the availability pre-check sees the name as free, but the write still
// hits the unique constraint because another insert landed in between.
type racingAccounts struct {
	*memAccounts
}

func (r *racingAccounts) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return false, nil
}

func (r *racingAccounts) Create(ctx context.Context, account types.Account, passwordHash string) (types.Account, error) {
	return types.Account{}, store.ErrDuplicate
}

func (r *racingAccounts) UpdateUsername(ctx context.Context, id int64, username string) error {
	return store.ErrDuplicate
}

// collidingTokens wraps memTokens and forces the first n Create calls
// to report a duplicate id, for exercising the issuance retry loop.
type collidingTokens struct {
	*memTokens
	mu         sync.Mutex
	collisions int
}

func (c *collidingTokens) Create(ctx context.Context, token types.AuthenticationToken) (types.AuthenticationToken, error) {
	c.mu.Lock()
	collide := c.collisions > 0
	if collide {
		c.collisions--
	}
	c.mu.Unlock()
	if collide {
		return types.AuthenticationToken{}, store.ErrDuplicate
	}
	return c.memTokens.Create(ctx, token)
}
