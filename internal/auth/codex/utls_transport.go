package codex

import (
	"net"
	"net/http"
	"sync"

	"github.com/loLollipop/refresh-token-got-it/internal/util"
	tls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// fingerprintRoundTripper speaks HTTP/2 over a utls connection with a Firefox
// ClientHello. Plain http URLs go through the standard transport.
type fingerprintRoundTripper struct {
	mu          sync.Mutex
	connections map[string]*http2.ClientConn
	pending     map[string]*sync.Cond
	dialer      proxy.Dialer
	plain       http.RoundTripper
}

func newFingerprintRoundTripper(proxyURL string) *fingerprintRoundTripper {
	plain := http.DefaultTransport
	if c := util.SetProxy(proxyURL, &http.Client{}); c.Transport != nil {
		plain = c.Transport
	}
	return &fingerprintRoundTripper{
		connections: make(map[string]*http2.ClientConn),
		pending:     make(map[string]*sync.Cond),
		dialer:      util.ProxyDialer(proxyURL),
		plain:       plain,
	}
}

// connFor returns a cached connection for host or dials a new one. Concurrent
// callers for the same host wait for a single dial.
func (t *fingerprintRoundTripper) connFor(host, addr string) (*http2.ClientConn, error) {
	t.mu.Lock()
	for {
		if h2Conn, ok := t.connections[host]; ok && h2Conn.CanTakeNewRequest() {
			t.mu.Unlock()
			return h2Conn, nil
		}
		cond, dialing := t.pending[host]
		if !dialing {
			break
		}
		cond.Wait()
	}
	cond := sync.NewCond(&t.mu)
	t.pending[host] = cond
	t.mu.Unlock()

	h2Conn, err := t.dial(host, addr)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, host)
	cond.Broadcast()
	if err != nil {
		return nil, err
	}
	t.connections[host] = h2Conn
	return h2Conn, nil
}

func (t *fingerprintRoundTripper) dial(host, addr string) (*http2.ClientConn, error) {
	conn, err := t.dialer.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloFirefox_Auto)
	if err = tlsConn.Handshake(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	h2Conn, err := (&http2.Transport{}).NewClientConn(tlsConn)
	if err != nil {
		_ = tlsConn.Close()
		return nil, err
	}
	return h2Conn, nil
}

// RoundTrip implements http.RoundTripper.
func (t *fingerprintRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return t.plain.RoundTrip(req)
	}

	hostname := req.URL.Hostname()
	port := req.URL.Port()
	if port == "" {
		port = "443"
	}

	if req.Header.Get("Accept-Encoding") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("Accept-Encoding", browserAcceptEncoding)
	}

	h2Conn, err := t.connFor(hostname, net.JoinHostPort(hostname, port))
	if err != nil {
		return nil, err
	}

	resp, err := h2Conn.RoundTrip(req)
	if err != nil {
		t.mu.Lock()
		if cached, ok := t.connections[hostname]; ok && cached == h2Conn {
			delete(t.connections, hostname)
		}
		t.mu.Unlock()
		return nil, err
	}
	return resp, nil
}
