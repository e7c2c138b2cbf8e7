package sandbox

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"
)

// egressProxy is a loopback-only forward proxy a sandboxed command is
// pointed at via http_proxy/https_proxy. Every destination it sees is
// checked against the run's PolicyEnforcer before a byte leaves the host,
// so a policy that allows some hosts and denies the rest still has a real
// decision point to consult. It is used for every command that did not get
// a fresh network namespace, which includes NetworkDenyAll policies on hosts
// without namespace support or with a loopback exception.
type egressProxy struct {
	listener net.Listener
	server   *http.Server
	enforcer *PolicyEnforcer
	onDenied func(host string)

	mu     sync.Mutex
	denied bool
	host   string
	reason string
}

// newEgressProxy starts listening immediately; Close shuts it down. onDenied
// is invoked synchronously the first time a request is refused, so the
// caller can kill the sandboxed process group as soon as the violation
// happens rather than waiting for the command to exit on its own.
func newEgressProxy(enforcer *PolicyEnforcer, onDenied func(host string)) (*egressProxy, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("sandbox: start egress proxy: %w", err)
	}
	p := &egressProxy{listener: ln, enforcer: enforcer, onDenied: onDenied}
	p.server = &http.Server{Handler: http.HandlerFunc(p.handle)}
	go func() { _ = p.server.Serve(ln) }()
	return p, nil
}

func (p *egressProxy) addr() string {
	return p.listener.Addr().String()
}

func (p *egressProxy) close() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = p.server.Shutdown(ctx)
}

// violation reports whether any request through this proxy was denied, the
// host that triggered it, and the enforcer's recorded reason, for the
// caller to translate into a NetworkAccessViolation on the command log
// entry.
func (p *egressProxy) violation() (bool, string, string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.denied, p.host, p.reason
}

func (p *egressProxy) handle(w http.ResponseWriter, r *http.Request) {
	host := hostOnly(r.Host)
	check := p.enforcer.CheckNetwork(host)
	if !check.Allowed {
		p.mu.Lock()
		p.denied = true
		p.host = host
		p.reason = check.Reason
		p.mu.Unlock()
		http.Error(w, check.Reason, http.StatusForbidden)
		if p.onDenied != nil {
			p.onDenied(host)
		}
		return
	}

	if r.Method == http.MethodConnect {
		p.serveConnect(w, r)
		return
	}
	p.serveForward(w, r)
}

func (p *egressProxy) serveConnect(w http.ResponseWriter, r *http.Request) {
	dest, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer dest.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "proxy: hijack unsupported", http.StatusInternalServerError)
		return
	}
	client, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer client.Close()

	_, _ = client.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n"))
	go func() { _, _ = io.Copy(dest, client) }()
	_, _ = io.Copy(client, dest)
}

func (p *egressProxy) serveForward(w http.ResponseWriter, r *http.Request) {
	outReq := r.Clone(r.Context())
	outReq.RequestURI = ""
	resp, err := http.DefaultTransport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	for k, vs := range resp.Header {
		for _, v := range vs {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func hostOnly(hostport string) string {
	host, _, err := net.SplitHostPort(hostport)
	if err != nil {
		return hostport
	}
	return host
}
