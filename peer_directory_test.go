package qredit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func peerListServer(t *testing.T, body string) (*httptest.Server, *recordingHandler) {
	t.Helper()
	handler := &recordingHandler{handle: func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/peer/list" || r.Method != http.MethodGet {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = fmt.Fprint(w, body)
	}}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv, handler
}

func deadSeed(t *testing.T) PeerAddress {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := serverAddress(t, srv)
	srv.Close()
	return addr
}

func newTestDirectory(t *testing.T, network *NetworkConfig, options *PeerDirectoryOptions) *PeerDirectory {
	t.Helper()
	if options == nil {
		options = &PeerDirectoryOptions{}
	}
	options.Network = network
	options.Logger = &testLogger
	options.Metrics = NewMetrics("test")
	if options.Filter == nil {
		options.Filter = PublicPeerFilter(fakeResolver{})
	}
	directory, err := NewPeerDirectory(options)
	require.NoError(t, err)
	return directory
}

func TestPeerDirectory_Refresh(t *testing.T) {
	seedA, handlerA := peerListServer(t, `{"success":true,"peers":[
		{"ip":"5.9.1.1","port":4001,"status":"OK"},
		{"ip":"5.9.1.2","port":4001,"status":"ETIMEOUT"},
		{"ip":"10.0.0.3","port":4001,"status":"OK"},
		{"ip":"127.0.0.1","port":4001,"status":"OK"},
		{"ip":"192.168.0.7","port":4001,"status":"OK"}
	]}`)
	seedB, _ := peerListServer(t, `{"success":true,"peers":[
		{"ip":"5.9.1.1","port":4001,"status":"OK"},
		{"ip":"5.9.1.4","port":4001,"status":"OK"}
	]}`)

	network := testNetwork(t,
		[]PeerAddress{serverAddress(t, seedA), serverAddress(t, seedB), deadSeed(t)},
		[]PeerAddress{{Host: "5.9.1.4", Port: 4001}, {Host: "5.9.9.9", Port: 4001}},
	)
	directory := newTestDirectory(t, network, nil)

	result, err := directory.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RefreshResult{SeedsQueried: 3, SeedsSucceeded: 2, Peers: 2, Trusted: 1}, result)

	assert.Equal(t, []Peer{
		{Host: "5.9.1.1", Port: 4001, Status: "OK"},
		{Host: "5.9.1.4", Port: 4001, Status: "OK"},
	}, directory.Peers())
	assert.Equal(t, []Peer{{Host: "5.9.1.4", Port: 4001, Status: "OK"}}, directory.TrustedPeers())

	require.Equal(t, 1, handlerA.Calls())
	headers := handlerA.headers[0]
	assert.Equal(t, testNetHash, headers.Get("nethash"))
	assert.Equal(t, "1.0.0", headers.Get("version"))
	assert.Equal(t, fmt.Sprint(serverAddress(t, seedA).Port), headers.Get("port"))
}

func TestPeerDirectory_RefreshReplacesPeers(t *testing.T) {
	var mu sync.Mutex
	body := `{"peers":[{"ip":"5.9.1.1","port":4001,"status":"OK"},{"ip":"5.9.1.2","port":4001,"status":"OK"}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		_, _ = fmt.Fprint(w, body)
	}))
	defer srv.Close()

	network := testNetwork(t, []PeerAddress{serverAddress(t, srv)}, []PeerAddress{{Host: "5.9.1.2", Port: 4001}})
	directory := newTestDirectory(t, network, nil)

	_, err := directory.Refresh(context.Background())
	require.NoError(t, err)
	assert.Len(t, directory.Peers(), 2)
	assert.Len(t, directory.TrustedPeers(), 1)

	mu.Lock()
	body = `{"peers":[{"ip":"5.9.1.3","port":4001,"status":"OK"}]}`
	mu.Unlock()

	_, err = directory.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Peer{{Host: "5.9.1.3", Port: 4001, Status: "OK"}}, directory.Peers())
	assert.Empty(t, directory.TrustedPeers(), "trusted peer no longer known")
}

func TestPeerDirectory_RefreshAllSeedsUnreachable(t *testing.T) {
	network := testNetwork(t, []PeerAddress{deadSeed(t), deadSeed(t)}, nil)
	directory := newTestDirectory(t, network, nil)

	before := []Peer{{Host: "5.9.1.1", Port: 4001, Status: "OK"}}
	directory.publish(before)

	result, err := directory.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRequestFailed))
	assert.Equal(t, 0, result.SeedsSucceeded)
	assert.Equal(t, before, directory.Peers())
}

func TestPeerDirectory_RefreshMalformedSeed(t *testing.T) {
	bad, _ := peerListServer(t, `<html>oops</html>`)
	good, _ := peerListServer(t, `{"peers":[{"ip":"5.9.1.1","port":4001,"status":"OK"}]}`)

	network := testNetwork(t, []PeerAddress{serverAddress(t, bad), serverAddress(t, good)}, nil)
	directory := newTestDirectory(t, network, nil)
	directory.publish([]Peer{{Host: "5.9.7.7", Port: 4001, Status: "OK"}})

	result, err := directory.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SeedsSucceeded)
	assert.Equal(t, []Peer{{Host: "5.9.1.1", Port: 4001, Status: "OK"}}, directory.Peers())
}

func TestPeerDirectory_PickRandom(t *testing.T) {
	network := testNetwork(t, nil, []PeerAddress{{Host: "5.9.1.2", Port: 4001}})
	directory := newTestDirectory(t, network, &PeerDirectoryOptions{Random: NewRandom(1, 2)})

	_, err := directory.PickRandom()
	assert.True(t, errors.Is(err, ErrNoPeersAvailable))
	_, err = directory.PickRandomTrusted()
	assert.True(t, errors.Is(err, ErrNoPeersAvailable))

	peers := []Peer{
		{Host: "5.9.1.1", Port: 4001, Status: "OK"},
		{Host: "5.9.1.2", Port: 4001, Status: "OK"},
		{Host: "5.9.1.3", Port: 4001, Status: "OK"},
	}
	directory.publish(peers)

	seen := map[string]int{}
	for i := 0; i < 300; i++ {
		peer, err := directory.PickRandom()
		require.NoError(t, err)
		seen[peer.Host]++
	}
	assert.Len(t, seen, 3)

	for i := 0; i < 10; i++ {
		peer, err := directory.PickRandomTrusted()
		require.NoError(t, err)
		assert.Equal(t, "5.9.1.2", peer.Host)
	}
}

func TestPeerDirectory_PickRandomReproducible(t *testing.T) {
	network := testNetwork(t, nil, nil)
	peers := []Peer{{Host: "5.9.1.1", Port: 1}, {Host: "5.9.1.2", Port: 2}, {Host: "5.9.1.3", Port: 3}}

	a := newTestDirectory(t, network, &PeerDirectoryOptions{Random: NewRandom(7, 7)})
	b := newTestDirectory(t, network, &PeerDirectoryOptions{Random: NewRandom(7, 7)})
	a.publish(peers)
	b.publish(peers)

	pickedA, err := a.PickRandomN(20)
	require.NoError(t, err)
	pickedB, err := b.PickRandomN(20)
	require.NoError(t, err)
	assert.Equal(t, pickedA, pickedB)
}

func TestPeerDirectory_ConcurrentReadsDuringRefresh(t *testing.T) {
	srv, _ := peerListServer(t, `{"peers":[{"ip":"5.9.1.1","port":4001,"status":"OK"},{"ip":"5.9.1.2","port":4001,"status":"OK"}]}`)
	network := testNetwork(t, []PeerAddress{serverAddress(t, srv)}, []PeerAddress{{Host: "5.9.1.1", Port: 4001}})
	directory := newTestDirectory(t, network, nil)
	directory.publish([]Peer{{Host: "5.9.1.1", Port: 4001, Status: "OK"}, {Host: "5.9.1.2", Port: 4001, Status: "OK"}})

	ctx, cancel := context.WithCancel(context.Background())
	wg := &sync.WaitGroup{}
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				peers := directory.Peers()
				assert.Len(t, peers, 2)
				_, err := directory.PickRandomTrusted()
				assert.NoError(t, err)
			}
		}()
	}

	for i := 0; i < 20; i++ {
		_, err := directory.Refresh(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()
}

func TestPeerDirectory_Store(t *testing.T) {
	srv, _ := peerListServer(t, `{"peers":[{"ip":"5.9.1.1","port":4001,"status":"OK","height":7}]}`)
	network := testNetwork(t, []PeerAddress{serverAddress(t, srv)}, []PeerAddress{{Host: "5.9.1.1", Port: 4001}})

	store := NewInMemoryPeerStore()
	directory := newTestDirectory(t, network, &PeerDirectoryOptions{Store: store})
	assert.Empty(t, directory.Peers())

	_, err := directory.Refresh(context.Background())
	require.NoError(t, err)

	restored := newTestDirectory(t, network, &PeerDirectoryOptions{Store: store})
	assert.Equal(t, directory.Peers(), restored.Peers())
	assert.Len(t, restored.TrustedPeers(), 1)
}

func TestSqlLitePeerStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peers.db")
	defer func() {
		_ = os.Remove(path)
	}()

	store, err := NewSqlLitePeerStore(path)
	require.NoError(t, err)
	defer func() {
		_ = store.Close()
	}()

	peers, err := store.LoadPeers()
	require.NoError(t, err)
	assert.Empty(t, peers)

	first := []Peer{
		{Host: "5.9.1.2", Port: 4001, Status: "OK", Version: "1.0.0", Height: 10},
		{Host: "5.9.1.1", Port: 4002, Status: "OK"},
	}
	require.NoError(t, store.SavePeers(first))

	peers, err = store.LoadPeers()
	require.NoError(t, err)
	assert.Equal(t, first, peers)

	second := []Peer{{Host: "5.9.1.3", Port: 4001, Status: "OK"}}
	require.NoError(t, store.SavePeers(second))

	peers, err = store.LoadPeers()
	require.NoError(t, err)
	assert.Equal(t, second, peers, "expected saved peers to replace the previous set")
}

func TestPeerDirectory_PickRandomNBounds(t *testing.T) {
	network := testNetwork(t, nil, nil)
	directory := newTestDirectory(t, network, &PeerDirectoryOptions{Random: NewRandom(1, 2), MaxPeerCount: 5})
	directory.publish([]Peer{{Host: "5.9.12.1", Port: 4001, Status: PeerStatusOK}})

	assert.Equal(t, 5, directory.MaxPeerCount())

	peers, err := directory.PickRandomN(5)
	require.NoError(t, err)
	assert.Len(t, peers, 5)

	for _, n := range []int{0, -3, 6, 1 << 60} {
		_, err = directory.PickRandomN(n)
		assert.True(t, errors.Is(err, ErrInvalidArgument), "n=%d: %v", n, err)
	}
}
