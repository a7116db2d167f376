package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	. "github.com/alexdcox/qredit-go"
	"github.com/alexdcox/qredit-go/rpcclient"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/pkg/errors"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

func NewHttpRpcServer(config *_config, client *Client) (server *HttpRpcServer, err error) {
	server = &HttpRpcServer{
		config: config,
		client: client,
	}
	server.app = server.newApp()

	return
}

type HttpRpcServer struct {
	app    *fiber.App
	client *Client
	config *_config
}

func (s *HttpRpcServer) newApp() *fiber.App {
	app := fiber.New(fiber.Config{
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           120 * time.Second,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())
	app.Use(func(c *fiber.Ctx) error {
		rsp := c.Next()
		log.Info().Msgf("http response: [%d] %s - %s %s", c.Response().StatusCode(), c.IP(), c.Method(), c.Path())
		return rsp
	})

	app.Get("/peers", s.getPeers)
	app.Post("/peers/refresh", s.postPeersRefresh)
	app.Get("/status", s.getStatus)
	app.Post("/tx/broadcast", s.postTransactionBroadcast)
	app.Get("/tx/:id", s.getTransaction)
	app.Get("/address/:address/transactions", s.getAddressTransactions)
	app.Get("/address/:address/balance", s.getAddressBalance)
	app.Post("/tools/passphrase-to-address", s.postPassphraseToAddress)
	app.Get("/metrics", adaptor.HTTPHandler(s.client.Metrics().Handler()))

	return app
}

func (s *HttpRpcServer) Start() (err error) {
	log.Info().Msgf("http/rpc server listening on %s", s.config.RpcHostPort)

	err = errors.WithStack(s.app.Listen(s.config.RpcHostPort))

	return
}

func (s *HttpRpcServer) Stop() (err error) {
	return errors.WithStack(s.app.Shutdown())
}

func (s *HttpRpcServer) errorResponse(c *fiber.Ctx, err error) error {
	statusCode := http.StatusInternalServerError

	reportedErr := err

	for _, match := range []struct {
		err    error
		status int
	}{
		{ErrTransactionNotFound, http.StatusNotFound},
		{ErrEncoding, http.StatusBadRequest},
		{ErrSigning, http.StatusBadRequest},
		{ErrInvalidArgument, http.StatusBadRequest},
		{ErrNoPeersAvailable, http.StatusServiceUnavailable},
		{ErrBroadcastRejected, http.StatusBadGateway},
		{ErrRequestFailed, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
	} {
		if errors.Is(err, match.err) {
			reportedErr = match.err
			statusCode = match.status
			break
		}
	}

	if statusCode == http.StatusInternalServerError {
		log.Error().Msgf("unhandled error on %s %s: %v\n%s", c.Method(), c.Path(), err, StackTracerMessage(err))
	}

	return c.Status(statusCode).JSON(&rpcclient.RpcError{
		Err:     reportedErr.Error(),
		Details: fmt.Sprintf("%+v", err),
	})
}

func (s *HttpRpcServer) unmarshalJson(c *fiber.Ctx, target any) (err error) {
	if c.Get("Content-Type") != "application/json" {
		return errors.Wrap(ErrEncoding, "expected an application/json request body")
	}

	if err = c.BodyParser(target); err != nil {
		err = errors.Wrap(ErrEncoding, err.Error())
	}
	return
}

func (s *HttpRpcServer) getPeers(c *fiber.Ctx) error {
	directory := s.client.Directory()
	return c.JSON(&rpcclient.GetPeersOut{
		Peers:     directory.Peers(),
		Trusted:   directory.TrustedPeers(),
		UpdatedAt: directory.UpdatedAt(),
	})
}

func (s *HttpRpcServer) postPeersRefresh(c *fiber.Ctx) error {
	result, err := s.client.UpdatePeers(c.UserContext())
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(&result)
}

func (s *HttpRpcServer) getStatus(c *fiber.Ctx) error {
	network := s.client.Network()
	directory := s.client.Directory()

	return c.JSON(&rpcclient.GetStatusOut{
		NetHash:        network.NetHash(),
		Version:        network.Version(),
		AddressVersion: network.AddressVersion(),
		Epoch:          network.Epoch(),
		Peers:          len(directory.Peers()),
		Trusted:        len(directory.TrustedPeers()),
		UpdatedAt:      directory.UpdatedAt(),
	})
}

func (s *HttpRpcServer) postTransactionBroadcast(c *fiber.Ctx) error {
	var req rpcclient.BroadcastTxIn
	if err := s.unmarshalJson(c, &req); err != nil {
		return s.errorResponse(c, err)
	}

	nodes := req.Nodes
	if nodes == 0 {
		nodes = s.config.Nodes
	}
	if err := s.client.Directory().CheckPeerCount(nodes); err != nil {
		return s.errorResponse(c, err)
	}

	tx := req.Transaction
	if tx == nil {
		var err error
		tx, err = s.client.BuildTransfer(req.RecipientID, req.Amount, req.VendorField, req.Passphrase)
		if err != nil {
			return s.errorResponse(c, err)
		}
	}

	log.Debug().Msgf("broadcasting transaction %s to %d nodes", tx.ID, nodes)

	outcome, err := s.client.Broadcast(c.UserContext(), tx, nodes)
	if err != nil {
		return s.errorResponse(c, err)
	}

	return c.JSON(outcome)
}

func (s *HttpRpcServer) getTransaction(c *fiber.Ctx) error {
	tx, err := s.client.GetTransaction(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(tx)
}

func (s *HttpRpcServer) getAddressTransactions(c *fiber.Ctx) error {
	address := c.Params("address")
	if _, err := DecodeAddress(address); err != nil {
		return s.errorResponse(c, err)
	}

	limit := c.QueryInt("limit", defaultPageLimit)
	if limit < 1 || limit > maxPageLimit {
		limit = defaultPageLimit
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}

	txs, err := s.client.GetTransactionsByRecipient(c.UserContext(), address, limit, offset)
	if err != nil {
		return s.errorResponse(c, err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return c.JSON(txs)
}

func (s *HttpRpcServer) getAddressBalance(c *fiber.Ctx) error {
	address := c.Params("address")
	if _, err := DecodeAddress(address); err != nil {
		return s.errorResponse(c, err)
	}

	balance, err := s.client.GetBalance(c.UserContext(), address)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(balance)
}

func (s *HttpRpcServer) postPassphraseToAddress(c *fiber.Ctx) error {
	var req rpcclient.PassphraseToAddressIn
	if err := s.unmarshalJson(c, &req); err != nil {
		return s.errorResponse(c, err)
	}

	publicKey, err := s.client.GetPublicKey(req.Passphrase)
	if err != nil {
		return s.errorResponse(c, err)
	}

	address, err := s.client.GetAddress(req.Passphrase)
	if err != nil {
		return s.errorResponse(c, err)
	}

	log.Debug().Msgf("derived address: '%s'", address)

	return c.JSON(&rpcclient.PassphraseToAddressOut{
		PublicKey: publicKey,
		Address:   address,
	})
}
