package qredit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

const (
	DefaultConnectTimeout = 5 * time.Second
	DefaultReadTimeout    = 5 * time.Second

	maxResponseSize = 8 << 20
)

// NewHTTPClient returns a client whose dial is bounded by connectTimeout and
// whose response wait is bounded by readTimeout.
func NewHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Client{
		Timeout: connectTimeout + readTimeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readTimeout,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

type transport struct {
	network *NetworkConfig
	client  *http.Client
}

func (t *transport) peerHeaders(req *http.Request, port int) {
	req.Header.Set("nethash", t.network.NetHash())
	req.Header.Set("version", t.network.Version())
	req.Header.Set("port", strconv.Itoa(port))
}

// peerRequest calls one of the /peer endpoints of host:port, which require
// the network identifying headers. A non 2xx status is an error.
func (t *transport) peerRequest(ctx context.Context, method string, addr PeerAddress, path string, in any) (out []byte, err error) {
	var body io.Reader
	if in != nil {
		jsn, err2 := json.Marshal(in)
		if err2 != nil {
			err = errors.WithStack(err2)
			return
		}
		body = bytes.NewReader(jsn)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.network.BaseURL(addr.Host, addr.Port)+path, body)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	t.peerHeaders(req, addr.Port)

	return t.do(req)
}

func (t *transport) get(ctx context.Context, addr PeerAddress, pathAndQuery string) (out []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.network.BaseURL(addr.Host, addr.Port)+pathAndQuery, nil)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	return t.do(req)
}

func (t *transport) do(req *http.Request) (out []byte, err error) {
	rsp, err := t.client.Do(req)
	if err != nil {
		err = errors.WithStack(err)
		return
	}
	defer func() {
		_ = rsp.Body.Close()
	}()

	out, err = io.ReadAll(io.LimitReader(rsp.Body, maxResponseSize))
	if err != nil {
		err = errors.WithStack(err)
		return
	}

	if rsp.StatusCode < 200 || rsp.StatusCode > 299 {
		err = errors.Wrapf(ErrRequestFailed, "%s %s responded %d with body %.128s",
			req.Method, req.URL.Path, rsp.StatusCode, string(out))
		return
	}

	return
}
