package oauth

import (
	"context"
	"errors"
)

// Sentinel errors returned by TokenStore implementations. Expired entries
// MAY be returned as ErrExpired instead of ErrNotFound so the caller can
// map the condition to invalid_grant without a second lookup (§4.5
// "Storage contract").
var (
	ErrNotFound = errors.New("oauth: not found")
	ErrExpired  = errors.New("oauth: expired")
	ErrRevoked  = errors.New("oauth: revoked")
)

// ClientStore resolves registered OAuth clients and backs dynamic
// registration (RFC 7591).
type ClientStore interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
	CreateClient(ctx context.Context, c *Client) error
}

// TokenStore is the pluggable persistence contract for authorization
// codes, access tokens, and refresh-token families (§4.5 "Storage
// contract"). The default implementation is in-memory
// (internal/oauth/store/memory); internal/oauth/store/sqlite is an
// optional persistent implementation.
type TokenStore interface {
	// CreateCode stores a fresh authorization grant under codeHash.
	CreateCode(ctx context.Context, codeHash string, grant AuthorizationGrant) error
	// ConsumeCode atomically retrieves and deletes the grant for
	// codeHash (§3: "Single-use: successful consumption removes it").
	// Subsequent calls for the same hash fail with ErrNotFound.
	ConsumeCode(ctx context.Context, codeHash string) (*AuthorizationGrant, error)

	// StoreAccessToken records an issued access token by its hash.
	StoreAccessToken(ctx context.Context, tokenHash string, rec AccessTokenRecord) error
	// GetAccessToken looks up an access token record by hash.
	GetAccessToken(ctx context.Context, tokenHash string) (*AccessTokenRecord, error)
	// RevokeAccessToken removes an access token by hash.
	RevokeAccessToken(ctx context.Context, tokenHash string) error

	// StoreRefreshToken records an issued refresh token by its hash.
	StoreRefreshToken(ctx context.Context, tokenHash string, rt RefreshToken) error
	// GetRefreshToken looks up a refresh token record by hash.
	GetRefreshToken(ctx context.Context, tokenHash string) (*RefreshToken, error)
	// MarkRefreshTokenUsed flags a refresh token as used (first step of
	// the rotate-on-refresh protocol, §3/§4.5).
	MarkRefreshTokenUsed(ctx context.Context, tokenHash string) error
	// RevokeFamily atomically deletes every refresh token sharing
	// familyID (§3: "the first reuse of any used token REVOKES every
	// token in the family").
	RevokeFamily(ctx context.Context, familyID string) error
}
