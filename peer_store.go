package qredit

import (
	"sync"
)

// PeerStore persists the last peer set produced by a successful refresh so a
// restarted client has peers before its first discovery round completes.
type PeerStore interface {
	LoadPeers() ([]Peer, error)
	SavePeers(peers []Peer) error
}

type InMemoryPeerStore struct {
	mu    sync.RWMutex
	peers []Peer
}

var _ PeerStore = &InMemoryPeerStore{}

func NewInMemoryPeerStore() *InMemoryPeerStore {
	return &InMemoryPeerStore{}
}

func (s *InMemoryPeerStore) LoadPeers() ([]Peer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Peer(nil), s.peers...), nil
}

func (s *InMemoryPeerStore) SavePeers(peers []Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append([]Peer(nil), peers...)
	return nil
}
