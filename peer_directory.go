package qredit

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PeerFilter decides whether a discovered peer may join the directory.
type PeerFilter func(ctx context.Context, peer Peer) bool

// PublicPeerFilter keeps peers whose host resolves only to public addresses.
func PublicPeerFilter(resolver Resolver) PeerFilter {
	return func(ctx context.Context, peer Peer) bool {
		return IsPublicHost(ctx, resolver, peer.Host)
	}
}

type peerSnapshot struct {
	peers   []Peer
	trusted []Peer
	updated time.Time
}

type RefreshResult struct {
	SeedsQueried   int `json:"seedsQueried"`
	SeedsSucceeded int `json:"seedsSucceeded"`
	Peers          int `json:"peers"`
	Trusted        int `json:"trusted"`
}

type PeerDirectoryOptions struct {
	Network        *NetworkConfig
	HTTPClient     *http.Client
	Filter         PeerFilter
	Store          PeerStore
	Random         Random
	Logger         *zerolog.Logger
	Metrics        *Metrics
	MaxConcurrency int

	// MaxPeerCount bounds how many peers a single PickRandomN call may draw.
	MaxPeerCount int
}

func (o *PeerDirectoryOptions) setDefaults() {
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(DefaultConnectTimeout, DefaultReadTimeout)
	}
	if o.Filter == nil {
		o.Filter = PublicPeerFilter(defaultResolver)
	}
	if o.Random == nil {
		o.Random = globalRand{}
	}
	if o.Logger == nil {
		o.Logger = Log()
	}
	if o.MaxConcurrency < 1 {
		o.MaxConcurrency = defaultMaxConcurrency
	}
	if o.MaxPeerCount < 1 {
		o.MaxPeerCount = DefaultMaxPeerCount
	}
}

const (
	defaultMaxConcurrency = 16

	DefaultMaxPeerCount = 100
)

// PeerDirectory holds the known and trusted peer sets. Readers always see a
// complete snapshot: a refresh builds new sets and swaps them in at once.
type PeerDirectory struct {
	network        *NetworkConfig
	transport      *transport
	filter         PeerFilter
	store          PeerStore
	random         Random
	log            *zerolog.Logger
	metrics        *Metrics
	maxConcurrency int
	maxPeerCount   int

	snapshot  atomic.Pointer[peerSnapshot]
	refreshMu sync.Mutex
}

func NewPeerDirectory(options *PeerDirectoryOptions) (directory *PeerDirectory, err error) {
	if options == nil || options.Network == nil {
		err = errors.Wrap(ErrInvalidConfig, "peer directory requires a network config")
		return
	}
	options.setDefaults()

	directory = &PeerDirectory{
		network:        options.Network,
		transport:      &transport{network: options.Network, client: options.HTTPClient},
		filter:         options.Filter,
		store:          options.Store,
		random:         options.Random,
		log:            options.Logger,
		metrics:        options.Metrics,
		maxConcurrency: options.MaxConcurrency,
		maxPeerCount:   options.MaxPeerCount,
	}
	directory.snapshot.Store(&peerSnapshot{})

	if directory.store != nil {
		stored, err2 := directory.store.LoadPeers()
		if err2 != nil {
			err = errors.Wrap(err2, "unable to load stored peers")
			return
		}
		if len(stored) > 0 {
			directory.log.Info().Msgf("restored %d peers from store", len(stored))
			directory.publish(stored)
		}
	}

	return
}

// Refresh queries every seed peer for its peer list and replaces the known
// set with the union of healthy, public peers. Seeds that fail contribute
// nothing. When no seed responds the current sets are kept.
func (d *PeerDirectory) Refresh(ctx context.Context) (result RefreshResult, err error) {
	d.refreshMu.Lock()
	defer d.refreshMu.Unlock()

	seeds := d.network.SeedPeers()
	result.SeedsQueried = len(seeds)

	responses := make([][]Peer, len(seeds))
	succeeded := make([]bool, len(seeds))

	g := &errgroup.Group{}
	g.SetLimit(d.maxConcurrency)
	for i, seed := range seeds {
		g.Go(func() error {
			peers, err := d.querySeed(ctx, seed)
			if err != nil {
				d.log.Info().Msgf("failed to fetch peer list from seed %s: %v", seed, err)
				d.observeSeed("failed")
				return nil
			}
			d.observeSeed("ok")
			responses[i] = peers
			succeeded[i] = true
			return nil
		})
	}
	_ = g.Wait()

	seen := map[peerKey]bool{}
	var candidates []Peer
	for i := range seeds {
		if !succeeded[i] {
			continue
		}
		result.SeedsSucceeded++
		for _, peer := range responses[i] {
			if seen[peer.key()] {
				continue
			}
			seen[peer.key()] = true
			candidates = append(candidates, peer)
		}
	}

	if result.SeedsSucceeded == 0 {
		if d.metrics != nil {
			d.metrics.RefreshTotal.WithLabelValues("failed").Inc()
		}
		current := d.snapshot.Load()
		result.Peers, result.Trusted = len(current.peers), len(current.trusted)
		err = errors.Wrapf(ErrRequestFailed, "none of %d seed peers responded, keeping %d known peers",
			len(seeds), len(current.peers))
		return
	}

	snap := d.publish(candidates)
	result.Peers, result.Trusted = len(snap.peers), len(snap.trusted)

	if d.metrics != nil {
		d.metrics.RefreshTotal.WithLabelValues("ok").Inc()
	}

	d.log.Info().Msgf("updated peers: %d known, %d trusted, from %d/%d seeds",
		result.Peers, result.Trusted, result.SeedsSucceeded, result.SeedsQueried)

	if d.store != nil {
		if err2 := d.store.SavePeers(snap.peers); err2 != nil {
			d.log.Warn().Msgf("unable to persist peers: %+v", err2)
		}
	}

	return
}

func (d *PeerDirectory) querySeed(ctx context.Context, seed PeerAddress) (peers []Peer, err error) {
	body, err := d.transport.peerRequest(ctx, http.MethodGet, seed, "/peer/list", nil)
	if err != nil {
		return
	}

	listed, err := ParsePeerList(body)
	if err != nil {
		return
	}

	for _, peer := range listed {
		if peer.Status != PeerStatusOK {
			continue
		}
		if !d.filter(ctx, peer) {
			d.log.Debug().Msgf("dropping non public peer %s reported by %s", peer, seed)
			continue
		}
		peers = append(peers, peer)
	}

	return
}

func (d *PeerDirectory) observeSeed(result string) {
	if d.metrics != nil {
		d.metrics.SeedQueriesTotal.WithLabelValues(result).Inc()
	}
}

// publish swaps in a new snapshot built from peers. The trusted set is
// derived from the same peers so it is always a subset of the known set.
func (d *PeerDirectory) publish(peers []Peer) *peerSnapshot {
	snap := &peerSnapshot{
		peers:   append([]Peer(nil), peers...),
		updated: time.Now(),
	}
	for _, peer := range snap.peers {
		if d.network.IsTrusted(peer.Host, peer.Port) {
			snap.trusted = append(snap.trusted, peer)
		}
	}
	d.snapshot.Store(snap)

	if d.metrics != nil {
		d.metrics.KnownPeers.Set(float64(len(snap.peers)))
		d.metrics.TrustedPeers.Set(float64(len(snap.trusted)))
	}

	return snap
}

func (d *PeerDirectory) Peers() []Peer {
	return append([]Peer(nil), d.snapshot.Load().peers...)
}

func (d *PeerDirectory) TrustedPeers() []Peer {
	return append([]Peer(nil), d.snapshot.Load().trusted...)
}

func (d *PeerDirectory) UpdatedAt() time.Time {
	return d.snapshot.Load().updated
}

func (d *PeerDirectory) PickRandom() (Peer, error) {
	return d.pick(d.snapshot.Load().peers, "known")
}

func (d *PeerDirectory) PickRandomTrusted() (Peer, error) {
	return d.pick(d.snapshot.Load().trusted, "trusted")
}

func (d *PeerDirectory) MaxPeerCount() int {
	return d.maxPeerCount
}

// CheckPeerCount rejects draw sizes outside 1..MaxPeerCount.
func (d *PeerDirectory) CheckPeerCount(n int) error {
	if n < 1 || n > d.maxPeerCount {
		return errors.Wrapf(ErrInvalidArgument, "peer count must be between 1 and %d, got %d", d.maxPeerCount, n)
	}
	return nil
}

// PickRandomN draws n peers uniformly with replacement from a single
// snapshot.
func (d *PeerDirectory) PickRandomN(n int) (peers []Peer, err error) {
	if err = d.CheckPeerCount(n); err != nil {
		return
	}
	snap := d.snapshot.Load()
	peers = make([]Peer, 0, n)
	for i := 0; i < n; i++ {
		peer, err2 := d.pick(snap.peers, "known")
		if err2 != nil {
			return nil, err2
		}
		peers = append(peers, peer)
	}
	return
}

func (d *PeerDirectory) pick(from []Peer, set string) (peer Peer, err error) {
	if len(from) == 0 {
		err = errors.Wrapf(ErrNoPeersAvailable, "%s peer set is empty", set)
		return
	}
	return from[d.random.IntN(len(from))], nil
}

// StartAutoRefresh refreshes the directory every interval until ctx is done.
func (d *PeerDirectory) StartAutoRefresh(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := d.Refresh(ctx); err != nil {
					d.log.Warn().Msgf("periodic peer refresh failed: %v", err)
				}
			}
		}
	}()
}
