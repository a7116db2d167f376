package qredit

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

type PeerSettings struct {
	Hostname string `yaml:"hostname" json:"hostname"`
	Port     int    `yaml:"port" json:"port"`
}

// NetworkSettings is the static network descriptor as written in a network
// yaml file.
type NetworkSettings struct {
	Scheme       string         `yaml:"scheme" json:"scheme"`
	SeedPeers    []PeerSettings `yaml:"seedPeers" json:"seedPeers"`
	TrustedPeers []PeerSettings `yaml:"trustedPeers" json:"trustedPeers"`
	NetHash      string         `yaml:"netHash" json:"netHash"`
	PubKeyHash   *int           `yaml:"pubKeyHash" json:"pubKeyHash"`
	Epoch        string         `yaml:"epoch" json:"epoch"`
	Version      string         `yaml:"version" json:"version"`
}

func (s *NetworkSettings) setDefaults() {
	if s.Scheme == "" {
		s.Scheme = "http"
	}
	if s.PubKeyHash == nil {
		version := int(DefaultAddressVersion)
		s.PubKeyHash = &version
	}
	if s.Epoch == "" {
		s.Epoch = DefaultEpoch
	}
}

func (s NetworkSettings) Validate() (err error) {
	if s.Scheme != "http" && s.Scheme != "https" {
		return errors.Wrapf(ErrInvalidConfig, "scheme must be http or https, got '%s'", s.Scheme)
	}
	if s.NetHash == "" {
		return errors.Wrap(ErrInvalidConfig, "netHash is required")
	}
	if s.PubKeyHash != nil && (*s.PubKeyHash < 0 || *s.PubKeyHash > 255) {
		return errors.Wrapf(ErrInvalidConfig, "pubKeyHash must fit in a byte, got %d", *s.PubKeyHash)
	}
	if len(s.SeedPeers) == 0 {
		return errors.Wrap(ErrInvalidConfig, "at least one seed peer is required")
	}
	for _, p := range append(append([]PeerSettings(nil), s.SeedPeers...), s.TrustedPeers...) {
		if p.Hostname == "" {
			return errors.Wrap(ErrInvalidConfig, "peer hostname is required")
		}
		if p.Port < 1 || p.Port > 65535 {
			return errors.Wrapf(ErrInvalidConfig, "peer %s has invalid port %d", p.Hostname, p.Port)
		}
	}
	return
}

func (s NetworkSettings) seedAddresses() []PeerAddress {
	return peerAddresses(s.SeedPeers)
}

func (s NetworkSettings) trustedAddresses() []PeerAddress {
	return peerAddresses(s.TrustedPeers)
}

func peerAddresses(in []PeerSettings) []PeerAddress {
	out := make([]PeerAddress, 0, len(in))
	for _, p := range in {
		out = append(out, PeerAddress{Host: p.Hostname, Port: p.Port})
	}
	return out
}

// LoadNetworkConfigFile reads a yaml network descriptor from disk.
func LoadNetworkConfigFile(path string) (config *NetworkConfig, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		err = errors.Wrapf(err, "unable to read network file %s", path)
		return
	}
	return LoadNetworkConfig(bytes.NewReader(data))
}

func LoadNetworkConfig(r io.Reader) (config *NetworkConfig, err error) {
	settings := NetworkSettings{}
	if err = yaml.NewDecoder(r).Decode(&settings); err != nil {
		err = errors.Wrapf(ErrInvalidConfig, "unable to decode network yaml: %v", err)
		return
	}
	return NewNetworkConfig(settings)
}
