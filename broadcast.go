package qredit

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

// BroadcastPolicy decides which id a broadcast reports once peers have
// answered.
type BroadcastPolicy int

const (
	// PolicyFirstAccepted reports the first id returned by the first peer
	// observed to accept the transaction.
	PolicyFirstAccepted BroadcastPolicy = iota

	// PolicyMajority requires more than half of the accepting peers to return
	// the same id.
	PolicyMajority
)

func (p BroadcastPolicy) String() string {
	switch p {
	case PolicyFirstAccepted:
		return "first-accepted"
	case PolicyMajority:
		return "majority"
	}
	return "unknown"
}

type TransactionsRequest struct {
	Transactions []*TransactionRequest `json:"transactions"`
}

type BroadcastOutcome struct {
	ID            string   `json:"id"`
	AcceptedIDs   []string `json:"acceptedIds"`
	Submissions   int      `json:"submissions"`
	Accepted      int      `json:"accepted"`
	CorrelationID string   `json:"correlationId"`
}

type submission struct {
	peer Peer
	ids  []string
	err  error
}

type BroadcastEngineOptions struct {
	Directory      *PeerDirectory
	HTTPClient     *http.Client
	Policy         BroadcastPolicy
	Logger         *zerolog.Logger
	Metrics        *Metrics
	MaxConcurrency int
}

type BroadcastEngine struct {
	directory      *PeerDirectory
	transport      *transport
	policy         BroadcastPolicy
	log            *zerolog.Logger
	metrics        *Metrics
	maxConcurrency int
}

func NewBroadcastEngine(options *BroadcastEngineOptions) (engine *BroadcastEngine, err error) {
	if options == nil || options.Directory == nil {
		err = errors.Wrap(ErrInvalidConfig, "broadcast engine requires a peer directory")
		return
	}
	if options.HTTPClient == nil {
		options.HTTPClient = NewHTTPClient(DefaultConnectTimeout, DefaultReadTimeout)
	}
	if options.Logger == nil {
		options.Logger = Log()
	}
	if options.MaxConcurrency < 1 {
		options.MaxConcurrency = defaultMaxConcurrency
	}

	engine = &BroadcastEngine{
		directory:      options.Directory,
		transport:      &transport{network: options.Directory.network, client: options.HTTPClient},
		policy:         options.Policy,
		log:            options.Logger,
		metrics:        options.Metrics,
		maxConcurrency: options.MaxConcurrency,
	}
	return
}

// Broadcast submits a signed transaction to peerCount peers drawn at random,
// with replacement, from the directory. Failed submissions are logged and
// not retried. It fails with ErrBroadcastRejected when no peer accepts.
//
// If ctx is done before every peer has answered, Broadcast returns ctx.Err()
// and the outstanding submissions are no longer awaited.
func (e *BroadcastEngine) Broadcast(ctx context.Context, tx *TransactionRequest, peerCount int) (outcome *BroadcastOutcome, err error) {
	if tx == nil || !tx.Signed() {
		err = errors.Wrap(ErrSigning, "refusing to broadcast an unsigned transaction")
		return
	}
	if err = e.directory.CheckPeerCount(peerCount); err != nil {
		return
	}

	peers, err := e.directory.PickRandomN(peerCount)
	if err != nil {
		return
	}

	outcome = &BroadcastOutcome{
		Submissions:   len(peers),
		CorrelationID: uuid.NewString(),
	}
	log := e.log.With().Str("broadcast", outcome.CorrelationID).Str("tx", tx.ID).Logger()
	log.Info().Msgf("broadcasting transaction to %d peers", len(peers))

	start := time.Now()
	request := &TransactionsRequest{Transactions: []*TransactionRequest{tx}}
	results := make(chan submission, len(peers))

	go func() {
		g := &errgroup.Group{}
		g.SetLimit(e.maxConcurrency)
		for _, peer := range peers {
			g.Go(func() error {
				results <- e.submit(ctx, peer, request)
				return nil
			})
		}
		_ = g.Wait()
	}()

	var responses [][]string
	for received := 0; received < len(peers); received++ {
		var result submission
		select {
		case result = <-results:
		case <-ctx.Done():
			log.Warn().Msgf("broadcast abandoned after %d/%d responses", received, len(peers))
			return nil, errors.WithStack(ctx.Err())
		}

		switch {
		case result.err != nil:
			log.Info().Msgf("failed to broadcast transaction to node %s: %v", result.peer, result.err)
			e.observeSubmission("failed")
		case len(result.ids) == 0:
			log.Info().Msgf("failed to broadcast transaction to node %s: rejected transaction", result.peer)
			e.observeSubmission("rejected")
		default:
			e.observeSubmission("accepted")
			outcome.Accepted++
			outcome.AcceptedIDs = append(outcome.AcceptedIDs, result.ids...)
			responses = append(responses, result.ids)
		}
	}

	if e.metrics != nil {
		e.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}

	if outcome.Accepted == 0 && ctx.Err() != nil {
		return nil, errors.WithStack(ctx.Err())
	}

	outcome.ID, err = e.decide(responses)
	if err != nil {
		e.observeBroadcast("rejected")
		err = errors.Wrapf(err, "%d of %d peers accepted", outcome.Accepted, outcome.Submissions)
		return
	}

	e.observeBroadcast("accepted")
	log.Info().Msgf("transaction accepted by %d/%d peers as %s", outcome.Accepted, outcome.Submissions, outcome.ID)

	return
}

func (e *BroadcastEngine) decide(responses [][]string) (id string, err error) {
	if len(responses) == 0 {
		return "", ErrBroadcastRejected
	}

	switch e.policy {
	case PolicyMajority:
		votes := map[string]int{}
		best := ""
		for _, ids := range responses {
			counted := map[string]bool{}
			for _, id := range ids {
				if counted[id] {
					continue
				}
				counted[id] = true
				votes[id]++
				if best == "" || votes[id] > votes[best] {
					best = id
				}
			}
		}
		if votes[best]*2 <= len(responses) {
			return "", errors.Wrapf(ErrBroadcastRejected, "no transaction id was returned by a majority of %d accepting peers", len(responses))
		}
		return best, nil
	default:
		return responses[0][0], nil
	}
}

func (e *BroadcastEngine) submit(ctx context.Context, peer Peer, request *TransactionsRequest) (result submission) {
	result.peer = peer

	body, err := e.transport.peerRequest(ctx, http.MethodPost, peer.Address(), "/peer/transactions", request)
	if err != nil {
		result.err = err
		return
	}

	result.ids, result.err = ParseTransactionIDs(body)
	return
}

// ParseTransactionIDs reads the accepted ids from a /peer/transactions
// response. An empty list means the peer rejected the transaction.
func ParseTransactionIDs(body []byte) (ids []string, err error) {
	if !gjson.ValidBytes(body) {
		err = errors.Errorf("transaction response is not valid json: %.64s", string(body))
		return
	}
	for _, id := range gjson.GetBytes(body, "transactionIds").Array() {
		if s := id.String(); s != "" {
			ids = append(ids, s)
		}
	}
	return
}

func (e *BroadcastEngine) observeSubmission(result string) {
	if e.metrics != nil {
		e.metrics.SubmissionsTotal.WithLabelValues(result).Inc()
	}
}

func (e *BroadcastEngine) observeBroadcast(result string) {
	if e.metrics != nil {
		e.metrics.BroadcastTotal.WithLabelValues(result).Inc()
	}
}
