package api

import (
	"net/http"
	"sync"

	"github.com/bhagyabanghadai/dhi/pkg/artifacts"
	"github.com/bhagyabanghadai/dhi/pkg/auth"
	"github.com/bhagyabanghadai/dhi/pkg/fingerprint"
	"github.com/bhagyabanghadai/dhi/pkg/ledger"
	"github.com/bhagyabanghadai/dhi/pkg/limiter"
	"github.com/bhagyabanghadai/dhi/pkg/manifest"
	"github.com/bhagyabanghadai/dhi/pkg/observability"
	"github.com/bhagyabanghadai/dhi/pkg/pipeline"
	"github.com/bhagyabanghadai/dhi/pkg/sandbox"
)

// Server bundles every collaborator the HTTP surface needs. All fields are
// required except Observability and Limiter: a nil Observability records
// nothing, and a nil Limiter admits every request unconditionally (no
// concurrency cap enforced).
type Server struct {
	Sandbox       sandbox.Sandbox
	Pipeline      *pipeline.Pipeline
	ManifestStore artifacts.Store
	Signer        *manifest.Signer
	Ledger        *ledger.Ledger
	Fingerprint   fingerprint.EnvironmentFingerprint
	Baseline      fingerprint.Baseline
	Validator     *auth.Validator
	Observability *observability.Provider
	Limiter       *limiter.Gate
	// DefaultPolicy is the security profile a request falls back to when it
	// doesn't supply its own Policy. A nil DefaultPolicy falls further back
	// to sandbox.DefaultPolicy(repo_root).
	DefaultPolicy *sandbox.Policy
	Version       string

	mu    sync.RWMutex
	index map[string]string // request_id -> manifest digest
}

// NewServer builds a Server ready to mount via Routes.
func NewServer(s Server) *Server {
	srv := s
	srv.index = make(map[string]string)
	if srv.Version == "" {
		srv.Version = "0.1.0"
	}
	return &srv
}

func (s *Server) storeManifestDigest(requestID, digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[requestID] = digest
}

func (s *Server) lookupManifestDigest(requestID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	digest, ok := s.index[requestID]
	return digest, ok
}

// policyFor resolves the effective security policy for a request: its own
// Policy if supplied, else the server-wide DefaultPolicy, else the
// restrictive scratch-confined default scoped to repoRoot.
func (s *Server) policyFor(requested *sandbox.Policy, repoRoot string) *sandbox.Policy {
	if requested != nil {
		return requested
	}
	if s.DefaultPolicy != nil {
		return s.DefaultPolicy
	}
	return sandbox.DefaultPolicy(repoRoot)
}

// Routes builds the full HTTP handler: routing plus the bearer-auth
// middleware wrapping every endpoint except /health.
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/verify", s.handleVerify)
	mux.HandleFunc("/intercept", s.handleIntercept)
	mux.HandleFunc("/orchestrate", s.handleOrchestrate)
	mux.HandleFunc("/manifest/", s.handleManifest)

	return auth.Middleware(s.Validator, WriteUnauthorized)(mux)
}
