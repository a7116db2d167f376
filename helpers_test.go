package qredit

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testPassphrase = "this is a top secret passphrase"
	testPublicKey  = "034151a3ec46b5670a682b0a63394f863587d1bc97483b1b6c70eb58e7f0aed192"
	testAddress    = "QMUfEV2ksetwabP4n42TtnefRQoFAbGZfF"
	testRecipient  = "QRNJJruY6RcuYCXcwWsu4bx9kyZtmoosvF"
	testNetHash    = "6c2b1e5a6d3d0c45a2b8e4f11e3a7f09b7b2d6b9c4e2a1f0d3c5b7a9e1f2d4c6"
)

var testLogger = zerolog.Nop()

func serverAddress(t *testing.T, srv *httptest.Server) PeerAddress {
	t.Helper()
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return PeerAddress{Host: host, Port: port}
}

func testNetwork(t *testing.T, seeds []PeerAddress, trusted []PeerAddress) *NetworkConfig {
	t.Helper()
	settings := NetworkSettings{
		Scheme:  "http",
		NetHash: testNetHash,
		Version: "1.0.0",
	}
	for _, s := range seeds {
		settings.SeedPeers = append(settings.SeedPeers, PeerSettings{Hostname: s.Host, Port: s.Port})
	}
	for _, s := range trusted {
		settings.TrustedPeers = append(settings.TrustedPeers, PeerSettings{Hostname: s.Host, Port: s.Port})
	}
	if len(settings.SeedPeers) == 0 {
		settings.SeedPeers = []PeerSettings{{Hostname: "127.0.0.1", Port: 1}}
	}
	network, err := NewNetworkConfig(settings)
	require.NoError(t, err)
	return network
}

func allowAll(context.Context, Peer) bool { return true }

// sequenceRandom replays fixed indexes so peer selection is predictable.
type sequenceRandom struct {
	mu  sync.Mutex
	seq []int
	i   int
}

func (s *sequenceRandom) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.seq[s.i%len(s.seq)] % n
	s.i++
	return v
}

type fakeResolver map[string][]net.IPAddr

func (f fakeResolver) LookupIPAddr(_ context.Context, host string) ([]net.IPAddr, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, &net.DNSError{Err: "no such host", Name: host, IsNotFound: true}
}

// recordingHandler counts requests and checks the network headers.
type recordingHandler struct {
	mu      sync.Mutex
	calls   int
	headers []http.Header
	handle  func(w http.ResponseWriter, r *http.Request)
}

func (h *recordingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.calls++
	h.headers = append(h.headers, r.Header.Clone())
	h.mu.Unlock()
	h.handle(w, r)
}

func (h *recordingHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}
