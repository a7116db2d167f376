package qredit

import (
	"context"
	"encoding/hex"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type ClientOptions struct {
	Network        *NetworkConfig
	HTTPClient     *http.Client
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	Crypto         CryptoProvider
	PeerStore      PeerStore
	PeerFilter     PeerFilter
	Random         Random
	Clock          Clock
	Logger         *zerolog.Logger
	Metrics        *Metrics
	Policy         BroadcastPolicy
	MaxConcurrency int
	MaxPeerCount   int
}

func (o *ClientOptions) setDefaults() {
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = defaultClientOptions.ConnectTimeout
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = defaultClientOptions.ReadTimeout
	}
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(o.ConnectTimeout, o.ReadTimeout)
	}
	if o.Crypto == nil {
		o.Crypto = Secp256k1Crypto{}
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.Logger == nil {
		o.Logger = Log()
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics("qredit")
	}
}

var defaultClientOptions = &ClientOptions{
	ConnectTimeout: DefaultConnectTimeout,
	ReadTimeout:    DefaultReadTimeout,
}

// Client ties the peer directory, transaction signing and broadcast engine
// together for a single network.
type Client struct {
	*queries

	network   *NetworkConfig
	crypto    CryptoProvider
	clock     Clock
	log       *zerolog.Logger
	metrics   *Metrics
	directory *PeerDirectory
	engine    *BroadcastEngine
}

func NewClient(options *ClientOptions) (client *Client, err error) {
	if options == nil || options.Network == nil {
		err = errors.Wrap(ErrInvalidConfig, "client requires a network config")
		return
	}
	options.setDefaults()

	directory, err := NewPeerDirectory(&PeerDirectoryOptions{
		Network:        options.Network,
		HTTPClient:     options.HTTPClient,
		Filter:         options.PeerFilter,
		Store:          options.PeerStore,
		Random:         options.Random,
		Logger:         options.Logger,
		Metrics:        options.Metrics,
		MaxConcurrency: options.MaxConcurrency,
		MaxPeerCount:   options.MaxPeerCount,
	})
	if err != nil {
		return
	}

	engine, err := NewBroadcastEngine(&BroadcastEngineOptions{
		Directory:      directory,
		HTTPClient:     options.HTTPClient,
		Policy:         options.Policy,
		Logger:         options.Logger,
		Metrics:        options.Metrics,
		MaxConcurrency: options.MaxConcurrency,
	})
	if err != nil {
		return
	}

	client = &Client{
		queries:   newQueries(directory, &transport{network: options.Network, client: options.HTTPClient}),
		network:   options.Network,
		crypto:    options.Crypto,
		clock:     options.Clock,
		log:       options.Logger,
		metrics:   options.Metrics,
		directory: directory,
		engine:    engine,
	}

	return
}

func (c *Client) Network() *NetworkConfig {
	return c.network
}

func (c *Client) Directory() *PeerDirectory {
	return c.directory
}

func (c *Client) Metrics() *Metrics {
	return c.metrics
}

func (c *Client) UpdatePeers(ctx context.Context) (RefreshResult, error) {
	return c.directory.Refresh(ctx)
}

// GetPublicKey returns the hex compressed public key for passphrase.
func (c *Client) GetPublicKey(passphrase string) (publicKey string, err error) {
	key, err := c.crypto.DerivePublicKey(passphrase)
	if err != nil {
		err = wrapSigning(err, "unable to derive public key")
		return
	}
	return hex.EncodeToString(key), nil
}

func (c *Client) GetAddress(passphrase string) (address string, err error) {
	publicKey, err := c.crypto.DerivePublicKey(passphrase)
	if err != nil {
		err = wrapSigning(err, "unable to derive public key")
		return
	}
	address, err = c.crypto.DeriveAddress(publicKey, c.network.AddressVersion())
	if err != nil {
		err = wrapSigning(err, "unable to derive address")
	}
	return
}

// BuildTransfer creates and signs a transfer timestamped now. Nothing is sent
// to the network.
func (c *Client) BuildTransfer(recipientID string, amount uint64, vendorField, passphrase string) (tx *TransactionRequest, err error) {
	timestamp, err := c.network.Timestamp(c.clock())
	if err != nil {
		err = errors.Wrap(ErrEncoding, err.Error())
		return
	}

	tx = NewTransfer(recipientID, amount, vendorField, timestamp)
	if err = SignTransaction(tx, c.crypto, passphrase); err != nil {
		tx = nil
		return
	}

	c.log.Debug().Msgf("signed transfer %s of %d to %s", tx.ID, amount, recipientID)

	return
}

func (c *Client) Broadcast(ctx context.Context, tx *TransactionRequest, nodes int) (*BroadcastOutcome, error) {
	return c.engine.Broadcast(ctx, tx, nodes)
}

// BroadcastTransaction signs a transfer and broadcasts it to nodes randomly
// chosen peers, returning the transaction id reported by the network.
func (c *Client) BroadcastTransaction(ctx context.Context, recipientID string, amount uint64, vendorField, passphrase string, nodes int) (id string, err error) {
	tx, err := c.BuildTransfer(recipientID, amount, vendorField, passphrase)
	if err != nil {
		return
	}

	outcome, err := c.engine.Broadcast(ctx, tx, nodes)
	if err != nil {
		return
	}

	return outcome.ID, nil
}
