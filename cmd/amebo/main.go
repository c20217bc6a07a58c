package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"

	"github.com/rayattack/amebo/api"
	"github.com/rayattack/amebo/catalog"
	"github.com/rayattack/amebo/config"
	"github.com/rayattack/amebo/dispatch"
	"github.com/rayattack/amebo/publish"
	"github.com/rayattack/amebo/schemata"
	"github.com/rayattack/amebo/store"
	"github.com/rayattack/amebo/vault"
)

// schemaCacheSize bounds the number of compiled action schemas held in
// memory at once.
const schemaCacheSize = 1024

// Config is the top-level configuration object of an amebo broker.
var Config = new(config.Config)

type cmdServe struct{}

func (cmdServe) Execute(_ []string) error {
	log.SetFormatter(&log.JSONFormatter{})

	if err := Config.Validate(); err != nil {
		return fmt.Errorf("validating configuration: %w", err)
	}
	log.WithFields(log.Fields{
		"engine": Config.Store.Engine,
		"port":   Config.Serve.Port,
	}).Info("amebo configuration")

	var engine = store.Embedded
	if Config.Store.Engine == "networked" {
		engine = store.Networked
	}
	var s, err = store.Open(engine, Config.Store.DSN)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer s.Close()

	if err = s.Initialize(context.Background()); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	schemas, err := schemata.New(schemaCacheSize)
	if err != nil {
		return fmt.Errorf("building schema cache: %w", err)
	}

	var v = vault.New(s, Config.Vault.Secret)
	if Config.Vault.Password != "" {
		if err = v.Bootstrap(context.Background(), Config.Vault.Username, Config.Vault.Password); err != nil {
			return fmt.Errorf("bootstrapping administrator: %w", err)
		}
	} else {
		log.Warn("--vault.password is unset; token authentication is unavailable")
	}

	var c = catalog.New(s, v, Config.Serve.MaxPagination)
	var publisher = publish.New(s, schemas)
	var dispatcher = dispatch.New(s, Config.Dispatch)
	var server = &http.Server{
		Addr:    fmt.Sprintf(":%d", Config.Serve.Port),
		Handler: api.New(Config, c, v, publisher, dispatcher).Router(),
	}

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	var drained = make(chan struct{})
	go func() {
		dispatcher.Run(ctx)
		close(drained)
	}()

	// Install signal handler: stop accepting requests, then stop the
	// dispatcher loop. Pending gists stay in the store and resume on
	// next startup.
	var signalCh = make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		var sig = <-signalCh
		log.WithField("signal", sig).Info("caught signal")

		var timeout, timeoutCancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer timeoutCancel()
		if err := server.Shutdown(timeout); err != nil {
			log.WithField("err", err).Warn("shutting down server")
		}
		cancel()
	}()

	log.WithField("addr", server.Addr).Info("starting amebo")
	if err = server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving: %w", err)
	}

	<-drained
	log.Info("goodbye")
	return nil
}

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, _ = parser.AddCommand("serve", "Serve as amebo broker", `
Serve the amebo event broker with the provided configuration, until
signaled to exit (via SIGTERM).
`, &cmdServe{})

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
