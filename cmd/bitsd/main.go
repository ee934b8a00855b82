package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	golog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/nicolagi/bitsd/app"
	"github.com/nicolagi/bitsd/config"
	"github.com/nicolagi/bitsd/environment"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

func main() {
	defaultConfigFile := os.ExpandEnv("$HOME/lib/bits/bitsd.config")
	configFile := flag.String("config", defaultConfigFile, "location of configuration file")
	flag.Parse()

	environment.Init()

	opts, err := config.Load(*configFile)
	if err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"path": *configFile,
		}).Fatal("Could not load configuration")
	}
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		log.WithFields(log.Fields{
			"err":  err,
			"path": *configFile,
		}).Fatal("Invalid configuration")
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	}

	cleanup := redirectLogging(opts.LogPath)
	defer cleanup()

	if err := agent.Listen(agent.Options{
		ShutdownCleanup: true,
	}); err != nil {
		log.WithField("err", err).Warn("Could not start gops agent")
	} else {
		defer agent.Close()
	}

	store, closeStore, err := newStore(opts.Buildpacks)
	if err != nil {
		log.WithField("err", err).Fatal("Could not set up blobstore")
	}
	defer closeStore()

	srv := &http.Server{
		Addr:              opts.Address,
		Handler:           app.New(opts, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Before we call srv.ListenAndServe(), which only returns once srv.Shutdown()
	// is called, install a signal handler calling srv.Shutdown().
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		defer close(done)
		sig := <-c
		log.WithField("signal", sig).Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.WithField("err", err).Warn("Could not shut down the server cleanly")
		}
	}()

	log.WithFields(log.Fields{
		"addr":        opts.Address,
		"environment": environment.Name(),
	}).Info("Listening")
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.WithField("err", err).Error("Could not listen and serve")
		return
	}
	<-done
}

func redirectLogging(pathname string) (cleanup func()) {
	golog.SetOutput(log.StandardLogger().Writer())
	if pathname == "" {
		return func() {}
	}
	logger := log.WithField("pathname", pathname)
	f, err := os.OpenFile(pathname, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
	if err != nil {
		logger.WithField("err", err).Fatal("Could not open log file")
	}
	logger.Info("Lines after this one will logged to a file")
	log.SetOutput(f)
	return func() {
		if err := f.Close(); err != nil {
			// Can't use the logger here!
			_, _ = fmt.Fprintf(os.Stderr, "Could not close log file cleanly %q: %v", pathname, err)
		}
	}
}
