package qredit

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultAddressVersion byte = 58
	DefaultEpoch               = "2017-03-21 13:00:00"
	EpochLayout                = "2006-01-02 15:04:05"
)

// PeerAddress is a host/port pair as it appears in network configuration.
type PeerAddress struct {
	Host string
	Port int
}

func (a PeerAddress) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// NetworkConfig describes a single ledger network. It is immutable once built;
// slice accessors hand out copies.
type NetworkConfig struct {
	scheme         string
	netHash        string
	version        string
	addressVersion byte
	epoch          time.Time
	seedPeers      []PeerAddress
	trustedPeers   []PeerAddress
}

func NewNetworkConfig(settings NetworkSettings) (config *NetworkConfig, err error) {
	settings.setDefaults()
	if err = settings.Validate(); err != nil {
		return
	}

	epoch, err := time.ParseInLocation(EpochLayout, settings.Epoch, time.UTC)
	if err != nil {
		err = errors.Wrapf(ErrInvalidConfig, "unable to parse epoch '%s': %v", settings.Epoch, err)
		return
	}

	config = &NetworkConfig{
		scheme:         settings.Scheme,
		netHash:        settings.NetHash,
		version:        settings.Version,
		addressVersion: byte(*settings.PubKeyHash),
		epoch:          epoch,
		seedPeers:      settings.seedAddresses(),
		trustedPeers:   settings.trustedAddresses(),
	}

	return
}

func (c *NetworkConfig) Scheme() string       { return c.scheme }
func (c *NetworkConfig) NetHash() string      { return c.netHash }
func (c *NetworkConfig) Version() string      { return c.version }
func (c *NetworkConfig) AddressVersion() byte { return c.addressVersion }
func (c *NetworkConfig) Epoch() time.Time     { return c.epoch }

func (c *NetworkConfig) SeedPeers() []PeerAddress {
	return append([]PeerAddress(nil), c.seedPeers...)
}

func (c *NetworkConfig) TrustedPeers() []PeerAddress {
	return append([]PeerAddress(nil), c.trustedPeers...)
}

// IsTrusted reports whether host:port is pinned as a trusted peer.
func (c *NetworkConfig) IsTrusted(host string, port int) bool {
	for _, t := range c.trustedPeers {
		if t.Host == host && t.Port == port {
			return true
		}
	}
	return false
}

func (c *NetworkConfig) BaseURL(host string, port int) string {
	return fmt.Sprintf("%s://%s", c.scheme, net.JoinHostPort(host, strconv.Itoa(port)))
}

// Timestamp returns the number of whole seconds between the genesis epoch and
// now. The wire format stores this as an unsigned 32 bit value.
func (c *NetworkConfig) Timestamp(now time.Time) (timestamp uint32, err error) {
	seconds := int64(now.Sub(c.epoch) / time.Second)
	if seconds < 0 {
		err = errors.Errorf("time %s is before network epoch %s", now.UTC(), c.epoch)
		return
	}
	if seconds > int64(^uint32(0)) {
		err = errors.Errorf("time %s overflows 32 bit epoch offset", now.UTC())
		return
	}
	return uint32(seconds), nil
}
