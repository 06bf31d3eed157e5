// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/playground"
	"github.com/dtn7/web-activities/pkg/ports"
	"github.com/dtn7/web-activities/pkg/store"
)

// openStore creates the configured result buffer and, if the backend can tell, a health probe for it.
func openStore(conf storeConfig) (store.ResultStore, func(context.Context) error, error) {
	switch conf.Backend {
	case backendBadger:
		badgerStore, err := store.NewBadgerStore(conf.Path)
		return badgerStore, nil, err
	case backendRedis:
		redisStore := store.NewRedisStore(conf.RedisAddress)
		return redisStore, redisStore.Ping, nil
	default:
		return store.NewMemoryStore(), nil, nil
	}
}

func main() {
	if len(os.Args) != 2 {
		log.Fatalf("Usage: %s configuration.toml", os.Args[0])
	}

	conf, err := parse(os.Args[1])
	if err != nil {
		log.WithField("error", err).Fatal("Config error")
	}

	log.SetLevel(conf.LogLevel)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05.000",
	})

	// Setup result buffer
	buffer, healthCheck, err := openStore(conf.Store)
	if err != nil {
		log.WithField("error", err).Fatal("Error initialising result store")
	}

	sweeper, err := store.NewSweeper(buffer, conf.Store.SweepInterval)
	if err != nil {
		log.WithError(err).Fatal("Error initializing result sweeper")
	}

	// Setup browser and publisher
	pg, err := playground.New(playground.Config{
		PublisherURL: conf.Publisher,
		Buffer:       buffer,
		PortsOptions: []ports.Option{
			ports.WithPollInterval(conf.Ports.PollInterval),
			ports.WithCloseGrace(conf.Ports.CloseGrace),
			ports.WithResultTTL(conf.Store.TTL),
		},
		ConnectTimeout: conf.Ports.ConnectTimeout,
		Flows:          conf.Flows,
		BridgeOrigins:  conf.Bridge.Origins,
	})
	if err != nil {
		log.WithError(err).Fatal("Error starting activity playground")
	}

	var restOptions []playground.RestOption
	if healthCheck != nil {
		restOptions = append(restOptions, playground.WithHealthCheck(healthCheck))
	}
	restServer := playground.NewRestServer(pg, restOptions...)
	restServer.Start(conf.API.Address)

	log.WithFields(log.Fields{
		"address": conf.API.Address,
		"store":   conf.Store.Backend,
	}).Info("activityd is running")

	// wait for SIGINT or SIGTERM
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var shutdownErr error
	if err := restServer.Shutdown(ctx); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	if err := sweeper.Shutdown(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	if err := pg.Close(); err != nil {
		shutdownErr = multierror.Append(shutdownErr, err)
	}
	if shutdownErr != nil {
		log.WithError(shutdownErr).Error("Unclean shutdown")
	}
}
