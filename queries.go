package qredit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/bluele/gcache"
	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

type Transaction struct {
	ID              string `json:"id"`
	BlockID         string `json:"blockid"`
	Height          uint64 `json:"height"`
	Type            byte   `json:"type"`
	Timestamp       uint32 `json:"timestamp"`
	Amount          uint64 `json:"amount"`
	Fee             uint64 `json:"fee"`
	SenderID        string `json:"senderId"`
	RecipientID     string `json:"recipientId"`
	SenderPublicKey string `json:"senderPublicKey"`
	Signature       string `json:"signature"`
	VendorField     string `json:"vendorField,omitempty"`
	Confirmations   uint64 `json:"confirmations"`
}

type TransactionsResponse struct {
	Success      bool          `json:"success"`
	Transactions []Transaction `json:"transactions"`
}

type AccountBalance struct {
	Success            bool   `json:"success"`
	Balance            uint64 `json:"balance"`
	UnconfirmedBalance uint64 `json:"unconfirmedBalance"`
}

const (
	transactionCacheSize = 1024
	transactionCacheTTL  = 10 * time.Minute
)

// queries runs the read-only api lookups against a random trusted peer.
type queries struct {
	directory *PeerDirectory
	transport *transport
	txCache   gcache.Cache
}

func newQueries(directory *PeerDirectory, tr *transport) *queries {
	return &queries{
		directory: directory,
		transport: tr,
		txCache:   gcache.New(transactionCacheSize).LRU().Expiration(transactionCacheTTL).Build(),
	}
}

func (q *queries) get(ctx context.Context, pathAndQuery string) (body []byte, err error) {
	peer, err := q.directory.PickRandomTrusted()
	if err != nil {
		return
	}
	return q.transport.get(ctx, peer.Address(), pathAndQuery)
}

func (q *queries) listTransactions(ctx context.Context, params url.Values) (transactions []Transaction, err error) {
	params.Set("orderBy", "timestamp:desc")
	body, err := q.get(ctx, "/api/transactions?"+params.Encode())
	if err != nil {
		return
	}

	rsp := &TransactionsResponse{}
	if err = json.Unmarshal(body, rsp); err != nil {
		err = errors.Wrapf(err, "unable to unmarshal body: %.128s", string(body))
		return
	}
	return rsp.Transactions, nil
}

func (q *queries) GetTransactions(ctx context.Context, limit, offset int) ([]Transaction, error) {
	return q.listTransactions(ctx, pageParams(limit, offset))
}

func (q *queries) GetTransactionsByRecipient(ctx context.Context, recipient string, limit, offset int) ([]Transaction, error) {
	params := pageParams(limit, offset)
	params.Set("recipientId", recipient)
	return q.listTransactions(ctx, params)
}

func (q *queries) GetTransaction(ctx context.Context, id string) (tx *Transaction, err error) {
	if cached, err2 := q.txCache.Get(id); err2 == nil {
		found := cached.(Transaction)
		return &found, nil
	}

	body, err := q.get(ctx, "/api/transactions/get?"+url.Values{"id": {id}}.Encode())
	if err != nil {
		return
	}

	result := gjson.GetBytes(body, "transaction")
	if !result.IsObject() {
		err = errors.Wrapf(ErrTransactionNotFound, "%s: %s", id, gjson.GetBytes(body, "error").String())
		return
	}

	tx = &Transaction{}
	if err = json.Unmarshal([]byte(result.Raw), tx); err != nil {
		err = errors.Wrapf(err, "unable to unmarshal transaction: %.128s", result.Raw)
		return
	}

	_ = q.txCache.Set(id, *tx)
	return
}

// GetBalance reads an account balance. Nodes report amounts as strings or
// numbers depending on version, both are accepted.
func (q *queries) GetBalance(ctx context.Context, address string) (balance *AccountBalance, err error) {
	body, err := q.get(ctx, "/api/accounts/getBalance?"+url.Values{"address": {address}}.Encode())
	if err != nil {
		return
	}

	parsed := gjson.ParseBytes(body)
	if !parsed.Get("balance").Exists() {
		err = errors.Wrapf(ErrRequestFailed, "balance lookup for %s failed: %s", address, parsed.Get("error").String())
		return
	}

	balance = &AccountBalance{
		Success:            parsed.Get("success").Bool(),
		Balance:            parsed.Get("balance").Uint(),
		UnconfirmedBalance: parsed.Get("unconfirmedBalance").Uint(),
	}
	return
}

func pageParams(limit, offset int) url.Values {
	return url.Values{
		"limit":  {fmt.Sprint(limit)},
		"offset": {fmt.Sprint(offset)},
	}
}
