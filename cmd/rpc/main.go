package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	. "github.com/alexdcox/qredit-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type _config struct {
	DatabasePath    string        `json:"databasepath"`
	NetworkFile     string        `json:"networkfile"`
	RpcHostPort     string        `json:"rpchostport"`
	LogLevel        string        `json:"loglevel"`
	Nodes           int           `json:"nodes"`
	RefreshInterval time.Duration `json:"refreshinterval"`
	Policy          string        `json:"policy"`
}

func (c *_config) Load() (err error) {
	flag.StringVar(&c.DatabasePath, "databasepath", "qredit-rpc.db", "Path to the sqlite peer database (empty to keep peers in memory)")
	flag.StringVar(&c.NetworkFile, "network", "", "Path to the network descriptor yaml")
	flag.StringVar(&c.RpcHostPort, "rpchostport", "localhost:3002", "Set host:port for the http/rpc listener")
	flag.StringVar(&c.LogLevel, "loglevel", "", "Set the log level (trace|debug|info|warn|error|fatal) Can also be set via the QREDIT_RPC_LOG_LEVEL environment variable")
	flag.IntVar(&c.Nodes, "nodes", 10, "Number of peers each transaction is broadcast to")
	flag.DurationVar(&c.RefreshInterval, "refresh", 5*time.Minute, "Interval between peer list refreshes (0 disables)")
	flag.StringVar(&c.Policy, "policy", PolicyFirstAccepted.String(), "Broadcast outcome policy (first-accepted|majority)")
	flag.Parse()

	if c.NetworkFile == "" {
		err = errors.Wrap(ErrInvalidConfig, "--network is required")
		return
	}
	if c.Nodes < 1 || c.Nodes > DefaultMaxPeerCount {
		err = errors.Wrapf(ErrInvalidConfig, "--nodes must be between 1 and %d, got %d", DefaultMaxPeerCount, c.Nodes)
		return
	}

	return
}

func (c *_config) BroadcastPolicy() (policy BroadcastPolicy, err error) {
	for _, p := range []BroadcastPolicy{PolicyFirstAccepted, PolicyMajority} {
		if p.String() == c.Policy {
			return p, nil
		}
	}
	err = errors.Wrapf(ErrInvalidConfig, "unknown broadcast policy '%s'", c.Policy)
	return
}

var log = Log()

var config *_config

func main() {
	config = &_config{}

	if err := config.Load(); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	if config.LogLevel == "" {
		envLogLevel := os.Getenv("QREDIT_RPC_LOG_LEVEL")
		if envLogLevel != "" {
			config.LogLevel = envLogLevel
		} else {
			config.LogLevel = "info"
		}
	}
	logLevel, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil {
		log.Fatal().Msgf("%+v", errors.WithStack(err))
	}

	log.Info().Msgf("setting log level to: '%s'", logLevel)
	zerolog.SetGlobalLevel(logLevel)

	network, err := LoadNetworkConfigFile(config.NetworkFile)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	policy, err := config.BroadcastPolicy()
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	var store PeerStore = NewInMemoryPeerStore()
	if config.DatabasePath != "" {
		db, err2 := NewSqlLitePeerStore(config.DatabasePath)
		if err2 != nil {
			log.Fatal().Msgf("%+v", err2)
		}
		defer db.Close()
		store = db
	}

	client, err := NewClient(&ClientOptions{
		Network:   network,
		PeerStore: store,
		Policy:    policy,
	})
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if result, err2 := client.UpdatePeers(ctx); err2 != nil {
		log.Warn().Msgf("initial peer refresh failed, continuing with %d stored peers: %v", len(client.Directory().Peers()), err2)
	} else {
		log.Info().Msgf("initial peer refresh found %d peers (%d trusted)", result.Peers, result.Trusted)
	}

	if config.RefreshInterval > 0 {
		client.Directory().StartAutoRefresh(ctx, config.RefreshInterval)
	}

	httpServer, err := NewHttpRpcServer(config, client)
	if err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	go func() {
		if err = httpServer.Start(); err != nil {
			log.Fatal().Msgf("%+v", err)
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Info().Msg("caught interrupt/terminate signal, attempting graceful shutdown...")

	cancel()

	if err = httpServer.Stop(); err != nil {
		log.Fatal().Msgf("%+v", err)
	}

	log.Info().Msg("graceful shutdown complete")
}
