// Package sqlite provides a persistent ClientStore/TokenStore backed by
// modernc.org/sqlite, the teacher's pure-Go sqlite driver dependency. It
// mirrors internal/oauth/store/memory's method set and error semantics, but
// survives process restart, for deployments that run §4.5's OAuth server as
// more than a single in-memory instance.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mcprt/mcprt/internal/oauth"
)

const schema = `
CREATE TABLE IF NOT EXISTS oauth_clients (
	client_id          TEXT PRIMARY KEY,
	client_secret_hash TEXT NOT NULL,
	client_name        TEXT NOT NULL,
	redirect_uris      TEXT NOT NULL,
	grant_types        TEXT NOT NULL,
	response_types     TEXT NOT NULL,
	auth_method        TEXT NOT NULL,
	scopes             TEXT NOT NULL,
	issued_at          INTEGER NOT NULL,
	secret_expires_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_codes (
	code_hash    TEXT PRIMARY KEY,
	client_id    TEXT NOT NULL,
	redirect_uri TEXT NOT NULL,
	scopes       TEXT NOT NULL,
	challenge    TEXT NOT NULL,
	challenge_method TEXT NOT NULL,
	subject      TEXT NOT NULL,
	resource     TEXT NOT NULL,
	expires_at   INTEGER NOT NULL,
	state        TEXT NOT NULL,
	nonce        TEXT NOT NULL,
	dpop_jkt     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_access_tokens (
	token_hash         TEXT PRIMARY KEY,
	subject            TEXT NOT NULL,
	client_id          TEXT NOT NULL,
	scopes             TEXT NOT NULL,
	resource           TEXT NOT NULL,
	issued_at          INTEGER NOT NULL,
	expires_at         INTEGER NOT NULL,
	refresh_token_hash TEXT NOT NULL,
	dpop_jkt           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS oauth_refresh_tokens (
	token_hash TEXT PRIMARY KEY,
	family_id  TEXT NOT NULL,
	generation INTEGER NOT NULL,
	subject    TEXT NOT NULL,
	client_id  TEXT NOT NULL,
	scopes     TEXT NOT NULL,
	resource   TEXT NOT NULL,
	used       INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	dpop_jkt   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS oauth_refresh_tokens_family ON oauth_refresh_tokens(family_id);
`

// Store implements oauth.ClientStore and oauth.TokenStore against a sqlite
// database opened at path (use ":memory:" for tests). Open runs the schema
// migration before returning.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at path and
// ensures its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid SQLITE_BUSY under concurrent callers
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("oauth/store/sqlite: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func joinStrings(ss []string) string {
	b, _ := json.Marshal(ss)
	return string(b)
}

func splitStrings(s string) []string {
	var ss []string
	_ = json.Unmarshal([]byte(s), &ss)
	return ss
}

func (s *Store) GetClient(ctx context.Context, clientID string) (*oauth.Client, error) {
	row := s.db.QueryRowContext(ctx, `SELECT client_id, client_secret_hash, client_name, redirect_uris,
		grant_types, response_types, auth_method, scopes, issued_at, secret_expires_at
		FROM oauth_clients WHERE client_id = ?`, clientID)

	var c oauth.Client
	var redirectURIs, grantTypes, responseTypes, scopes string
	var issuedAt, secretExpiresAt int64
	err := row.Scan(&c.ClientID, &c.ClientSecretHash, &c.ClientName, &redirectURIs,
		&grantTypes, &responseTypes, &c.TokenEndpointAuthMethod, &scopes, &issuedAt, &secretExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: get client: %w", err)
	}
	c.RedirectURIs = splitStrings(redirectURIs)
	c.GrantTypes = splitStrings(grantTypes)
	c.ResponseTypes = splitStrings(responseTypes)
	c.Scopes = splitStrings(scopes)
	c.ClientIDIssuedAt = time.Unix(issuedAt, 0).UTC()
	if secretExpiresAt != 0 {
		c.ClientSecretExpiresAt = time.Unix(secretExpiresAt, 0).UTC()
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *oauth.Client) error {
	var secretExpiresAt int64
	if !c.ClientSecretExpiresAt.IsZero() {
		secretExpiresAt = c.ClientSecretExpiresAt.Unix()
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO oauth_clients
		(client_id, client_secret_hash, client_name, redirect_uris, grant_types, response_types,
		 auth_method, scopes, issued_at, secret_expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ClientID, c.ClientSecretHash, c.ClientName, joinStrings(c.RedirectURIs),
		joinStrings(c.GrantTypes), joinStrings(c.ResponseTypes), string(c.TokenEndpointAuthMethod),
		joinStrings(c.Scopes), c.ClientIDIssuedAt.Unix(), secretExpiresAt)
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: create client: %w", err)
	}
	return nil
}

func (s *Store) CreateCode(ctx context.Context, codeHash string, grant oauth.AuthorizationGrant) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO oauth_codes
		(code_hash, client_id, redirect_uri, scopes, challenge, challenge_method, subject,
		 resource, expires_at, state, nonce, dpop_jkt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		codeHash, grant.ClientID, grant.RedirectURI, joinStrings(grant.Scopes), grant.CodeChallenge,
		string(grant.CodeChallengeMethod), grant.Subject, grant.Resource, grant.ExpiresAt.Unix(),
		grant.State, grant.Nonce, grant.DPoPJKT)
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: create code: %w", err)
	}
	return nil
}

// ConsumeCode retrieves and deletes the grant in one transaction so a code
// can never be read by two concurrent callers (§3 "single-use").
func (s *Store) ConsumeCode(ctx context.Context, codeHash string) (*oauth.AuthorizationGrant, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: consume code: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	row := tx.QueryRowContext(ctx, `SELECT client_id, redirect_uri, scopes, challenge, challenge_method,
		subject, resource, expires_at, state, nonce, dpop_jkt FROM oauth_codes WHERE code_hash = ?`, codeHash)

	var grant oauth.AuthorizationGrant
	var scopes string
	var expiresAt int64
	err = row.Scan(&grant.ClientID, &grant.RedirectURI, &scopes, &grant.CodeChallenge,
		&grant.CodeChallengeMethod, &grant.Subject, &grant.Resource, &expiresAt, &grant.State,
		&grant.Nonce, &grant.DPoPJKT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: consume code: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM oauth_codes WHERE code_hash = ?`, codeHash); err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: consume code: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: consume code: %w", err)
	}

	grant.Scopes = splitStrings(scopes)
	grant.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if grant.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &grant, nil
}

func (s *Store) StoreAccessToken(ctx context.Context, tokenHash string, rec oauth.AccessTokenRecord) error {
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO oauth_access_tokens
		(token_hash, subject, client_id, scopes, resource, issued_at, expires_at, refresh_token_hash, dpop_jkt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tokenHash, rec.Subject, rec.ClientID, joinStrings(rec.Scopes), rec.Resource,
		rec.IssuedAt.Unix(), rec.ExpiresAt.Unix(), rec.RefreshTokenHash, rec.DPoPJKT)
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: store access token: %w", err)
	}
	return nil
}

func (s *Store) GetAccessToken(ctx context.Context, tokenHash string) (*oauth.AccessTokenRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT subject, client_id, scopes, resource, issued_at,
		expires_at, refresh_token_hash, dpop_jkt FROM oauth_access_tokens WHERE token_hash = ?`, tokenHash)

	var rec oauth.AccessTokenRecord
	var scopes string
	var issuedAt, expiresAt int64
	err := row.Scan(&rec.Subject, &rec.ClientID, &scopes, &rec.Resource, &issuedAt, &expiresAt,
		&rec.RefreshTokenHash, &rec.DPoPJKT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: get access token: %w", err)
	}
	rec.Scopes = splitStrings(scopes)
	rec.IssuedAt = time.Unix(issuedAt, 0).UTC()
	rec.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if rec.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &rec, nil
}

func (s *Store) RevokeAccessToken(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_access_tokens WHERE token_hash = ?`, tokenHash); err != nil {
		return fmt.Errorf("oauth/store/sqlite: revoke access token: %w", err)
	}
	return nil
}

func (s *Store) StoreRefreshToken(ctx context.Context, tokenHash string, rt oauth.RefreshToken) error {
	used := 0
	if rt.Used {
		used = 1
	}
	_, err := s.db.ExecContext(ctx, `INSERT OR REPLACE INTO oauth_refresh_tokens
		(token_hash, family_id, generation, subject, client_id, scopes, resource, used, expires_at, dpop_jkt)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tokenHash, rt.FamilyID, rt.Generation, rt.Subject, rt.ClientID, joinStrings(rt.Scopes),
		rt.Resource, used, rt.ExpiresAt.Unix(), rt.DPoPJKT)
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: store refresh token: %w", err)
	}
	return nil
}

func (s *Store) GetRefreshToken(ctx context.Context, tokenHash string) (*oauth.RefreshToken, error) {
	row := s.db.QueryRowContext(ctx, `SELECT family_id, generation, subject, client_id, scopes,
		resource, used, expires_at, dpop_jkt FROM oauth_refresh_tokens WHERE token_hash = ?`, tokenHash)

	var rt oauth.RefreshToken
	var scopes string
	var used int
	var expiresAt int64
	err := row.Scan(&rt.FamilyID, &rt.Generation, &rt.Subject, &rt.ClientID, &scopes, &rt.Resource,
		&used, &expiresAt, &rt.DPoPJKT)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, oauth.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("oauth/store/sqlite: get refresh token: %w", err)
	}
	rt.Scopes = splitStrings(scopes)
	rt.Used = used != 0
	rt.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	if rt.Used {
		return nil, oauth.ErrRevoked
	}
	if rt.Expired(time.Now().UTC()) {
		return nil, oauth.ErrExpired
	}
	return &rt, nil
}

func (s *Store) MarkRefreshTokenUsed(ctx context.Context, tokenHash string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE oauth_refresh_tokens SET used = 1 WHERE token_hash = ?`, tokenHash)
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: mark refresh token used: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("oauth/store/sqlite: mark refresh token used: %w", err)
	}
	if n == 0 {
		return oauth.ErrNotFound
	}
	return nil
}

// RevokeFamily deletes every refresh token sharing familyID, the rotation
// compromise response required by §3.
func (s *Store) RevokeFamily(ctx context.Context, familyID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM oauth_refresh_tokens WHERE family_id = ?`, familyID); err != nil {
		return fmt.Errorf("oauth/store/sqlite: revoke family: %w", err)
	}
	return nil
}

var (
	_ oauth.ClientStore = (*Store)(nil)
	_ oauth.TokenStore  = (*Store)(nil)
)
