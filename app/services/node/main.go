package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ardanlabs/conf/v3"
	"github.com/ardanlabs/powchain/app/services/node/handlers"
	"github.com/ardanlabs/powchain/foundation/blockchain/database"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/disk"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/kv"
	"github.com/ardanlabs/powchain/foundation/blockchain/database/storage/memory"
	"github.com/ardanlabs/powchain/foundation/blockchain/genesis"
	"github.com/ardanlabs/powchain/foundation/blockchain/metrics"
	"github.com/ardanlabs/powchain/foundation/blockchain/oracle"
	"github.com/ardanlabs/powchain/foundation/blockchain/p2p"
	"github.com/ardanlabs/powchain/foundation/blockchain/peer"
	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
	"github.com/ardanlabs/powchain/foundation/blockchain/state"
	"github.com/ardanlabs/powchain/foundation/blockchain/worker"
	"github.com/ardanlabs/powchain/foundation/events"
	"github.com/ardanlabs/powchain/foundation/logger"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("NODE")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:10s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			PrivateHost     string        `conf:"default:0.0.0.0:9080"`
		}
		State struct {
			MinerKeyPath     string `conf:"default:zblock/miner.ecdsa"`
			MinerAccount     string
			Storage          string `conf:"default:disk"`
			DBPath           string `conf:"default:zblock/blocks.db"`
			Backups          int    `conf:"default:5"`
			SelectStrategy   string `conf:"default:fee"`
			GenesisFile      string
			VerifySignatures bool `conf:"default:true"`
		}
		P2P struct {
			Host                string        `conf:"default:0.0.0.0:5000"`
			Seeds               []string      `conf:"default:127.0.0.1:5000;127.0.0.1:5001"`
			MinPeers            int           `conf:"default:8"`
			MaxPeers            int           `conf:"default:32"`
			MaintenanceInterval time.Duration `conf:"default:60s"`
			PeerIdleTimeout     time.Duration `conf:"default:300s"`
			SyncInterval        time.Duration `conf:"default:60s"`
			LAN                 bool          `conf:"default:false"`
		}
		Mining struct {
			Enabled bool `conf:"default:true"`
		}
		Oracle struct {
			Price int64 `conf:"default:1"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "proof of work ledger node",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "NODE"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	fmt.Println(`  ____   _____        __   ____ _   _    _    ___ _   _ `)
	fmt.Println(` |  _ \ / _ \ \      / /  / ___| | | |  / \  |_ _| \ | |`)
	fmt.Println(` | |_) | | | \ \ /\ / /  | |   | |_| | / _ \  | ||  \| |`)
	fmt.Println(` |  __/| |_| |\ V  V /   | |___|  _  |/ ___ \ | || |\  |`)
	fmt.Println(` |_|    \___/  \_/\_/     \____|_| |_/_/   \_\___|_| \_|`)
	fmt.Print("\n")

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Blockchain Support

	// The consensus parameters come from the genesis file when one is
	// configured.
	gen, err := genesis.Load(cfg.State.GenesisFile)
	if err != nil {
		return fmt.Errorf("unable to load genesis: %w", err)
	}

	minerID, err := minerAccount(cfg.State.MinerAccount, cfg.State.MinerKeyPath)
	if err != nil {
		return err
	}
	log.Infow("startup", "status", "miner account", "account", minerID)

	storage, err := openStorage(cfg.State.Storage, cfg.State.DBPath, cfg.State.Backups)
	if err != nil {
		return fmt.Errorf("unable to open storage: %w", err)
	}

	// The blockchain packages accept a function of this signature to allow the
	// application to log. Messages with the viewer prefix are also sent to any
	// websocket client connected through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		const websocketPrefix = "viewer:"

		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		if strings.HasPrefix(s, websocketPrefix) {
			evts.Send(s)
		}
	}

	var verifier database.Verifier
	if cfg.State.VerifySignatures {
		verifier = signature.Verifier{}
	}

	// The state value represents the ledger and manages the blockchain
	// database, the mempool and the difficulty.
	st, err := state.New(state.Config{
		MinerAccountID: minerID,
		Genesis:        gen,
		Storage:        storage,
		SelectStrategy: cfg.State.SelectStrategy,
		Verifier:       verifier,
		Oracle:         oracle.NewFixed(cfg.Oracle.Price, 0),
		EvHandler:      ev,
	})
	if err != nil {
		return err
	}
	defer st.Shutdown()

	// =========================================================================
	// Peer Node Support

	node, err := p2p.New(p2p.Config{
		Host:                cfg.P2P.Host,
		State:               st,
		Peers:               peer.NewPeerSet(),
		Seeds:               cfg.P2P.Seeds,
		MinPeers:            cfg.P2P.MinPeers,
		MaxPeers:            cfg.P2P.MaxPeers,
		MaintenanceInterval: cfg.P2P.MaintenanceInterval,
		PeerIdleTimeout:     cfg.P2P.PeerIdleTimeout,
		SyncInterval:        cfg.P2P.SyncInterval,
		LAN:                 cfg.P2P.LAN,
		EvHandler:           ev,
	})
	if err != nil {
		return fmt.Errorf("unable to construct peer node: %w", err)
	}

	if err := node.Start(); err != nil {
		return fmt.Errorf("unable to start peer node: %w", err)
	}
	defer node.Shutdown()

	log.Infow("startup", "status", "peer node started", "host", node.Addr(), "node_id", node.NodeID())

	// The worker package implements the mining workflow. The worker will
	// register itself with the state.
	if cfg.Mining.Enabled {
		worker.Run(st, node, ev)
	}

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewCollector(st, node),
	)

	// Construct the mux for the debug calls.
	debugMux := handlers.DebugMux(build, log, st, registry)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	muxCfg := handlers.MuxConfig{
		Shutdown: shutdown,
		Log:      log,
		State:    st,
		Node:     node,
		Evts:     evts,
	}

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      handlers.PublicMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Start Private Service

	log.Infow("startup", "status", "initializing V1 private API support")

	// Mining a block on request can take longer than a regular write.
	private := http.Server{
		Addr:         cfg.Web.PrivateHost,
		Handler:      handlers.PrivateMux(muxCfg),
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: 10 * cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	go func() {
		log.Infow("startup", "status", "private api router started", "host", private.Addr)
		serverErrors <- private.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancelPri := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPri()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown private API started")
		if err := private.Shutdown(ctx); err != nil {
			private.Close()
			return fmt.Errorf("could not stop private service gracefully: %w", err)
		}

		// Give outstanding requests a deadline for completion.
		ctx, cancelPub := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancelPub()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}

// =============================================================================

// minerAccount returns the account credited with the block rewards. An
// explicit account wins over the key file.
func minerAccount(account string, keyPath string) (database.AccountID, error) {
	if account != "" {
		return database.ToAccountID(account)
	}

	privateKey, err := crypto.LoadECDSA(keyPath)
	if err != nil {
		return "", fmt.Errorf("unable to load private key for miner: %w", err)
	}

	return database.PublicKeyToAccountID(privateKey.PublicKey), nil
}

// openStorage constructs the configured block storage.
func openStorage(kind string, path string, backups int) (database.Storage, error) {
	switch kind {
	case "disk":
		return disk.New(path, backups)

	case "kv":
		return kv.New(path, backups)

	case "memory":
		return memory.New(), nil
	}

	return nil, fmt.Errorf("unknown storage %q, expecting disk, kv or memory", kind)
}
