package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/browserconfig"
	"github.com/rexliu/acrpc/pkg/config"
	"github.com/rexliu/acrpc/pkg/dispatch"
	"github.com/rexliu/acrpc/pkg/idp"
	"github.com/rexliu/acrpc/pkg/ipc"
	"github.com/rexliu/acrpc/pkg/logging"
	"github.com/rexliu/acrpc/pkg/relay"
	"github.com/rexliu/acrpc/pkg/storage/sqlite"
)

// Storage scopes inside the profile database.
const (
	scopeAccounts = "accounts"
	scopeConfig   = "config"
	scopeRelay    = "relay"
)

func main() {
	profile := flag.String("profile", "./_dev_profile", "Path to profile directory")
	socket := flag.String("socket", "", "Override IPC socket path (optional)")
	flag.Parse()

	logger := logging.New("acd")
	logger.Infof("starting daemon with profile %s", *profile)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *profile, *socket, logger); err != nil {
		logger.Errorf("fatal error: %v", err)
		_ = logger.Close()
		os.Exit(1)
	}
	_ = logger.Close()
}

type daemon struct {
	cfg        *config.ProfileConfig
	profileDir string
	db         *sqlite.DB
	dispatcher *dispatch.Dispatcher
	sessions   *sessionHub
	logger     *logging.Logger
}

func run(ctx context.Context, profileDir, socketOverride string, logger *logging.Logger) (err error) {
	cfg, err := config.LoadProfile(profileDir)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	if err := logger.Configure(cfg.Logging); err != nil {
		return err
	}

	db, err := sqlite.Open(cfg.Storage.DBPath, sqlite.Options{
		JournalMode: cfg.Storage.JournalMode,
		Synchronous: cfg.Storage.Synchronous,
	})
	if err != nil {
		return errors.Wrap(err, "open sqlite")
	}
	defer func() { err = multierr.Append(err, db.Close()) }()
	if err := db.Init(ctx); err != nil {
		return errors.Wrap(err, "init sqlite")
	}

	d := newDaemon(cfg, profileDir, db, logger)

	socketPath := socketOverride
	if socketPath == "" {
		socketPath = cfg.IPC.SocketPath
	}
	if err := cleanupSocket(socketPath); err != nil {
		return err
	}

	srv := ipc.NewServer(logger)
	d.registerHandlers(srv)
	if err := srv.Start(ctx, socketPath); err != nil {
		return errors.Wrap(err, "start ipc")
	}
	defer func() {
		err = multierr.Combine(err, srv.Stop(), cleanupSocket(socketPath))
	}()
	logger.Infof("daemon ready; socket at %s", socketPath)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.sessions.pruneLoop(gctx, time.Minute)
		return nil
	})
	if cfg.HTTP.ListenAddr != "" {
		httpSrv := &http.Server{
			Addr:              cfg.HTTP.ListenAddr,
			Handler:           d.httpHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Infof("message endpoint listening on %s", cfg.HTTP.ListenAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "http listen")
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	logger.Infof("shutting down")
	return err
}

func newDaemon(cfg *config.ProfileConfig, profileDir string, db *sqlite.DB, logger *logging.Logger) *daemon {
	chooser := cfg.Server.Spec()
	d := &daemon{
		cfg:        cfg,
		profileDir: profileDir,
		db:         db,
		logger:     logger,
		dispatcher: &dispatch.Dispatcher{
			Accounts: account.NewStore(db.Scope(scopeAccounts)),
			Config:   browserconfig.New(db.Scope(scopeConfig), logger),
			Relay: relay.New(db.Scope(scopeRelay), relay.Options{
				Expiry: cfg.Relay.Expiry.Duration,
				Logger: logger,
			}),
			BootstrapDomains: cfg.Bootstrap.Domains,
			UI:               &headlessUI{},
			Logger:           logger,
		},
	}
	if len(cfg.IDP.Endpoints) > 0 {
		d.dispatcher.NewIDP = func() *idp.Aggregator {
			return idp.New(idp.Options{
				Endpoints:     cfg.IDP.Endpoints,
				AllowNonHTTPS: cfg.IDP.AllowNonHTTPS,
				Timeout:       cfg.IDP.Timeout.Duration,
				ChooserOrigin: chooser.Domain,
				Logger:        logger,
			})
		}
	}
	d.sessions = newSessionHub(d.dispatcher, chooser.Domain, cfg.Relay.Expiry.Duration, cfg.IDP.Timeout.Duration, logger)
	return d
}

func cleanupSocket(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err == nil {
		if err := os.Remove(path); err != nil {
			return err
		}
	}
	return nil
}
