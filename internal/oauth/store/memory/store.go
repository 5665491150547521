// Package memory provides in-memory ClientStore/TokenStore implementations
// for development and single-instance deployments, mirroring
// internal/adapter/outbound/memory's mutex-guarded-map pattern.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mcprt/mcprt/internal/oauth"
)

// ClientStore implements oauth.ClientStore with an in-memory map.
type ClientStore struct {
	mu      sync.RWMutex
	clients map[string]*oauth.Client
}

// NewClientStore creates an empty in-memory client store.
func NewClientStore() *ClientStore {
	return &ClientStore{clients: make(map[string]*oauth.Client)}
}

func (s *ClientStore) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *ClientStore) CreateClient(ctx context.Context, c *oauth.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

// TokenStore implements oauth.TokenStore with in-memory maps. Entries are
// not actively swept on expiry; Get* callers are expected to check
// Expired() themselves, consistent with the pluggable-backend contract
// (§4.5: the sqlite-backed store may instead expire rows at query time).
type TokenStore struct {
	mu            sync.RWMutex
	codes         map[string]oauth.AuthorizationGrant
	accessTokens  map[string]oauth.AccessTokenRecord
	refreshTokens map[string]oauth.RefreshToken
}

// NewTokenStore creates an empty in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		codes:         make(map[string]oauth.AuthorizationGrant),
		accessTokens:  make(map[string]oauth.AccessTokenRecord),
		refreshTokens: make(map[string]oauth.RefreshToken),
	}
}

func (s *TokenStore) CreateCode(ctx context.Context, codeHash string, grant oauth.AuthorizationGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[codeHash] = grant
	return nil
}

func (s *TokenStore) ConsumeCode(ctx context.Context, codeHash string) (*oauth.AuthorizationGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	grant, ok := s.codes[codeHash]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	delete(s.codes, codeHash)
	if grant.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &grant, nil
}

func (s *TokenStore) StoreAccessToken(ctx context.Context, tokenHash string, rec oauth.AccessTokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessTokens[tokenHash] = rec
	return nil
}

func (s *TokenStore) GetAccessToken(ctx context.Context, tokenHash string) (*oauth.AccessTokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.accessTokens[tokenHash]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	if rec.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &rec, nil
}

func (s *TokenStore) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accessTokens, tokenHash)
	return nil
}

func (s *TokenStore) StoreRefreshToken(ctx context.Context, tokenHash string, rt oauth.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshTokens[tokenHash] = rt
	return nil
}

func (s *TokenStore) GetRefreshToken(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rt, ok := s.refreshTokens[tokenHash]
	if !ok {
		return nil, oauth.ErrNotFound
	}
	if rt.Used {
		return nil, oauth.ErrRevoked
	}
	if rt.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &rt, nil
}

func (s *TokenStore) MarkRefreshTokenUsed(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.refreshTokens[tokenHash]
	if !ok {
		return oauth.ErrNotFound
	}
	rt.Used = true
	s.refreshTokens[tokenHash] = rt
	return nil
}

func (s *TokenStore) RevokeFamily(ctx context.Context, familyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, rt := range s.refreshTokens {
		if rt.FamilyID == familyID {
			delete(s.refreshTokens, hash)
		}
	}
	return nil
}

var (
	_ oauth.ClientStore = (*ClientStore)(nil)
	_ oauth.TokenStore  = (*TokenStore)(nil)
)
