package qredit

import (
	"context"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

const PeerStatusOK = "OK"

// Peer is a ledger node reachable over the peer HTTP API. Two peers are the
// same peer when host and port match.
type Peer struct {
	Host    string `json:"ip"`
	Port    int    `json:"port"`
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
	Height  uint64 `json:"height,omitempty"`
}

type peerKey struct {
	host string
	port int
}

func (p Peer) key() peerKey {
	return peerKey{p.Host, p.Port}
}

func (p Peer) Address() PeerAddress {
	return PeerAddress{Host: p.Host, Port: p.Port}
}

func (p Peer) String() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ParsePeerList reads the body of a /peer/list response. Entries without a
// host or a usable port are skipped.
func ParsePeerList(body []byte) (peers []Peer, err error) {
	if !gjson.ValidBytes(body) {
		err = errors.Errorf("peer list is not valid json: %.64s", string(body))
		return
	}

	parsed := gjson.ParseBytes(body)
	if success := parsed.Get("success"); success.Exists() && !success.Bool() {
		// nodes answer a nethash mismatch with the hash they expected
		if parsed.Get("expected").Exists() {
			err = errors.Wrapf(ErrInvalidNetwork, "%s (expected %s, received %s)",
				parsed.Get("message").String(), parsed.Get("expected").String(), parsed.Get("received").String())
			return
		}
		err = errors.Errorf("peer list request failed: %s", parsed.Get("message").String())
		return
	}

	list := parsed.Get("peers")
	if !list.IsArray() {
		err = errors.Errorf("peer list response has no peers array: %.64s", string(body))
		return
	}

	for _, entry := range list.Array() {
		peer := Peer{
			Host:    entry.Get("ip").String(),
			Port:    int(entry.Get("port").Int()),
			Status:  entry.Get("status").String(),
			Version: entry.Get("version").String(),
			Height:  entry.Get("height").Uint(),
		}
		if peer.Host == "" || peer.Port < 1 || peer.Port > 65535 {
			continue
		}
		peers = append(peers, peer)
	}

	return
}

var defaultResolver Resolver = net.DefaultResolver

// Resolver is the subset of net.Resolver used to vet peer hosts.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// IsPublicHost reports whether every address host resolves to is routable on
// the public internet. Hosts that fail to resolve are not public.
func IsPublicHost(ctx context.Context, resolver Resolver, host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return isPublicIP(ip)
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return false
	}
	for _, addr := range addrs {
		if !isPublicIP(addr.IP) {
			return false
		}
	}
	return true
}

func isPublicIP(ip net.IP) bool {
	return !(ip.IsLoopback() ||
		ip.IsPrivate() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast())
}
