package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	. "github.com/alexdcox/qredit-go"
	"github.com/pkg/errors"
)

func NewRpcClient(hostPort string) (client *RpcClient, err error) {
	if hostPort == "" {
		err = errors.Wrap(ErrInvalidConfig, "rpc client requires a host:port")
		return
	}
	client = &RpcClient{
		HostPort:   hostPort,
		HTTPClient: http.DefaultClient,
	}
	return
}

// RpcClient talks to a running cmd/rpc gateway. HostPort includes the scheme,
// e.g. http://localhost:3002.
type RpcClient struct {
	HostPort   string
	HTTPClient *http.Client
}

func (c *RpcClient) req(method string, path string, body io.Reader) (rsp *http.Response, out []byte, err error) {
	req, err2 := http.NewRequest(method, c.HostPort+path, body)
	if err2 != nil {
		err = errors.WithStack(err2)
		return
	}

	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/json")
	}

	rsp, err = c.HTTPClient.Do(req)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	defer rsp.Body.Close()

	out, err = io.ReadAll(rsp.Body)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	if rsp.StatusCode/100 != 2 {
		errRsp := &RpcError{}
		if decodeErr := json.Unmarshal(out, errRsp); decodeErr == nil && errRsp.Err != "" {
			err = errRsp

			if stdErr := errRsp.StdErr(); stdErr != nil {
				err = stdErr
			}

			return
		}

		err = errors.Wrapf(ErrRpcFailed, "rpc response code %d with body %s", rsp.StatusCode, string(out))
		return
	}

	return
}

func (c *RpcClient) reqUnmarshal(method string, path string, body io.Reader, target any) (err error) {
	_, rspBody, err := c.req(method, path, body)
	if err != nil {
		return
	}

	err = json.Unmarshal(rspBody, target)
	if err != nil {
		err = errors.Wrapf(err, "unable to unmarshal body: %s", string(rspBody))
		return
	}

	return
}

func (c *RpcClient) get(path string, target any) (err error) {
	return c.reqUnmarshal(http.MethodGet, path, nil, target)
}

func (c *RpcClient) post(path string, in any, target any) (err error) {
	jsn, err := json.Marshal(in)
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	return c.reqUnmarshal(http.MethodPost, path, bytes.NewReader(jsn), target)
}

type GetPeersOut struct {
	Peers     []Peer    `json:"peers"`
	Trusted   []Peer    `json:"trusted"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *RpcClient) GetPeers() (out *GetPeersOut, err error) {
	out = &GetPeersOut{}
	err = c.get("/peers", out)
	return
}

func (c *RpcClient) RefreshPeers() (out *RefreshResult, err error) {
	out = &RefreshResult{}
	err = c.post("/peers/refresh", struct{}{}, out)
	return
}

type GetStatusOut struct {
	NetHash        string    `json:"nethash"`
	Version        string    `json:"version"`
	AddressVersion byte      `json:"addressVersion"`
	Epoch          time.Time `json:"epoch"`
	Peers          int       `json:"peers"`
	Trusted        int       `json:"trusted"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

func (c *RpcClient) GetStatus() (out *GetStatusOut, err error) {
	out = &GetStatusOut{}
	err = c.get("/status", out)
	return
}

// BroadcastTxIn either carries a transaction signed elsewhere, or the transfer
// fields and passphrase for the gateway to build and sign one.
type BroadcastTxIn struct {
	Transaction *TransactionRequest `json:"transaction,omitempty"`
	RecipientID string              `json:"recipientId,omitempty"`
	Amount      uint64              `json:"amount,omitempty"`
	VendorField string              `json:"vendorField,omitempty"`
	Passphrase  string              `json:"passphrase,omitempty"`
	Nodes       int                 `json:"nodes,omitempty"`
}

func (c *RpcClient) BroadcastTx(in *BroadcastTxIn) (out *BroadcastOutcome, err error) {
	out = &BroadcastOutcome{}
	err = c.post("/tx/broadcast", in, out)
	return
}

func (c *RpcClient) GetTransaction(id string) (out *Transaction, err error) {
	out = &Transaction{}
	err = c.get(fmt.Sprintf("/tx/%s", url.PathEscape(id)), out)
	return
}

func (c *RpcClient) GetTransactionsForAddress(address string, limit, offset int) (out []Transaction, err error) {
	out = []Transaction{}
	err = c.get(fmt.Sprintf("/address/%s/transactions?limit=%d&offset=%d", url.PathEscape(address), limit, offset), &out)
	return
}

func (c *RpcClient) GetBalance(address string) (out *AccountBalance, err error) {
	out = &AccountBalance{}
	err = c.get(fmt.Sprintf("/address/%s/balance", url.PathEscape(address)), out)
	return
}

type PassphraseToAddressIn struct {
	Passphrase string `json:"passphrase"`
}

type PassphraseToAddressOut struct {
	PublicKey string `json:"publicKey"`
	Address   string `json:"address"`
}

func (c *RpcClient) PassphraseToAddress(in *PassphraseToAddressIn) (out *PassphraseToAddressOut, err error) {
	out = &PassphraseToAddressOut{}
	err = c.post("/tools/passphrase-to-address", in, out)
	return
}

type RpcError struct {
	Err     string `json:"error"`
	Details string `json:"details"`
}

func (r *RpcError) Error() string {
	return r.Err
}

func (r *RpcError) StdErr() error {
	for _, a := range AllErrors {
		if r.Err == a.Error() {
			return errors.Wrap(a, r.Details)
		}
	}
	return nil
}
