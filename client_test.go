package qredit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNode serves the peer and api endpoints of a single ledger node.
type fakeNode struct {
	mu          sync.Mutex
	submitted   []*TransactionRequest
	lookups     int
	lastQuery   string
	peerList    string
	transaction string
}

func (n *fakeNode) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	n.mu.Lock()
	defer n.mu.Unlock()

	switch r.URL.Path {
	case "/peer/list":
		_, _ = fmt.Fprint(w, n.peerList)
	case "/peer/transactions":
		request := TransactionsRequest{}
		if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		n.submitted = append(n.submitted, request.Transactions...)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "transactionIds": []string{request.Transactions[0].ID}})
	case "/api/transactions":
		n.lastQuery = r.URL.RawQuery
		_, _ = fmt.Fprint(w, `{"success":true,"transactions":[{"id":"t1","amount":5,"fee":10000000,"recipientId":"`+testRecipient+`","confirmations":3}]}`)
	case "/api/transactions/get":
		n.lookups++
		if r.URL.Query().Get("id") != "t1" {
			_, _ = fmt.Fprint(w, `{"success":false,"error":"Transaction not found"}`)
			return
		}
		_, _ = fmt.Fprint(w, n.transaction)
	case "/api/accounts/getBalance":
		_, _ = fmt.Fprint(w, `{"success":true,"balance":"1500000000","unconfirmedBalance":1400000000}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newTestClient(t *testing.T, node *fakeNode) (*Client, PeerAddress) {
	t.Helper()

	srv := httptest.NewServer(node)
	t.Cleanup(srv.Close)
	addr := serverAddress(t, srv)

	node.peerList = fmt.Sprintf(`{"success":true,"peers":[{"ip":"%s","port":%d,"status":"OK"}]}`, addr.Host, addr.Port)

	network := testNetwork(t, []PeerAddress{addr}, []PeerAddress{addr})
	client, err := NewClient(&ClientOptions{
		Network:    network,
		PeerFilter: allowAll,
		Random:     NewRandom(1, 2),
		Clock: func() time.Time {
			return network.Epoch().Add(12345 * time.Second)
		},
		Logger: &testLogger,
	})
	require.NoError(t, err)

	_, err = client.UpdatePeers(context.Background())
	require.NoError(t, err)

	return client, addr
}

func TestClient_BuildTransfer(t *testing.T) {
	client, _ := newTestClient(t, &fakeNode{})

	tx, err := client.BuildTransfer(testRecipient, 100000000, "", testPassphrase)
	require.NoError(t, err)

	assert.Equal(t, TransactionTypeTransfer, tx.Type)
	assert.Equal(t, uint32(12345), tx.Timestamp)
	assert.Equal(t, TransferFee, tx.Fee)
	assert.Equal(t, testPublicKey, tx.SenderPublicKey)
	assert.Equal(t, "3e9a81a61222cb707978f93394ac128f62364c9b431f155fdf749b71611c4a62", tx.ID)
	assert.True(t, tx.Signed())
}

func TestClient_BuildTransferErrors(t *testing.T) {
	client, _ := newTestClient(t, &fakeNode{})

	_, err := client.BuildTransfer("QRNJJruY6RcuYCXcwWsu4bx9kyZtntqeAx", 1, "", testPassphrase)
	assert.True(t, errors.Is(err, ErrEncoding))

	_, err = client.BuildTransfer(testRecipient, 1, "", "")
	assert.True(t, errors.Is(err, ErrSigning))
}

func TestClient_BroadcastTransaction(t *testing.T) {
	node := &fakeNode{}
	client, _ := newTestClient(t, node)

	id, err := client.BroadcastTransaction(context.Background(), testRecipient, 100000000, "thanks", testPassphrase, 3)
	require.NoError(t, err)

	node.mu.Lock()
	defer node.mu.Unlock()
	require.Len(t, node.submitted, 3)
	assert.Equal(t, node.submitted[0].ID, id)
	assert.Equal(t, "thanks", node.submitted[0].VendorField)
	assert.Equal(t, testAddress, mustAddress(t, client))
}

func TestClient_SigningFailureSendsNothing(t *testing.T) {
	node := &fakeNode{}
	client, _ := newTestClient(t, node)
	client.crypto = failingCrypto{}

	_, err := client.BroadcastTransaction(context.Background(), testRecipient, 1, "", testPassphrase, 3)
	assert.True(t, errors.Is(err, ErrSigning))

	node.mu.Lock()
	defer node.mu.Unlock()
	assert.Empty(t, node.submitted)
}

func TestClient_Queries(t *testing.T) {
	node := &fakeNode{
		transaction: `{"success":true,"transaction":{"id":"t1","height":10,"amount":100,"fee":10000000,"recipientId":"` + testRecipient + `","vendorField":"hi"}}`,
	}
	client, _ := newTestClient(t, node)
	ctx := context.Background()

	txs, err := client.GetTransactionsByRecipient(ctx, testRecipient, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, "t1", txs[0].ID)
	assert.Equal(t, uint64(3), txs[0].Confirmations)
	assert.Contains(t, node.lastQuery, "recipientId="+testRecipient)
	assert.Contains(t, node.lastQuery, "limit=10")
	assert.Contains(t, node.lastQuery, "offset=0")
	assert.Contains(t, node.lastQuery, "orderBy=timestamp%3Adesc")

	txs, err = client.GetTransactions(ctx, 5, 20)
	require.NoError(t, err)
	assert.Len(t, txs, 1)
	assert.False(t, strings.Contains(node.lastQuery, "recipientId"))

	tx, err := client.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), tx.Height)
	assert.Equal(t, "hi", tx.VendorField)
	tx.Amount = 999
	tx.VendorField = "changed"

	cached, err := client.GetTransaction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, node.lookups, "expected the second lookup to be cached")
	assert.Equal(t, uint64(100), cached.Amount)
	assert.Equal(t, "hi", cached.VendorField)
	assert.NotSame(t, tx, cached)

	_, err = client.GetTransaction(ctx, "missing")
	assert.True(t, errors.Is(err, ErrTransactionNotFound))

	balance, err := client.GetBalance(ctx, testAddress)
	require.NoError(t, err)
	assert.Equal(t, uint64(1500000000), balance.Balance)
	assert.Equal(t, uint64(1400000000), balance.UnconfirmedBalance)
}

func TestClient_QueriesWithoutTrustedPeers(t *testing.T) {
	network := testNetwork(t, nil, nil)
	client, err := NewClient(&ClientOptions{Network: network, Logger: &testLogger})
	require.NoError(t, err)

	_, err = client.GetBalance(context.Background(), testAddress)
	assert.True(t, errors.Is(err, ErrNoPeersAvailable))
}

func mustAddress(t *testing.T, client *Client) string {
	t.Helper()
	address, err := client.GetAddress(testPassphrase)
	require.NoError(t, err)
	return address
}
