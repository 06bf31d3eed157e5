// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	log "github.com/sirupsen/logrus"
)

// Sweeper periodically removes expired records from a ResultStore.
type Sweeper struct {
	store     ResultStore
	scheduler gocron.Scheduler
}

func NewSweeper(store ResultStore, interval time.Duration) (*Sweeper, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}

	sweeper := Sweeper{
		store:     store,
		scheduler: scheduler,
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(
			interval,
		),
		gocron.NewTask(
			sweeper.sweep,
		),
	)
	if err != nil {
		_ = scheduler.Shutdown()
		return nil, err
	}

	scheduler.Start()
	return &sweeper, nil
}

func (sweeper *Sweeper) sweep() {
	swept, err := sweeper.store.Sweep(context.Background(), time.Now())
	if err != nil {
		log.WithError(err).Error("Error sweeping expired results")
		return
	}
	if swept > 0 {
		log.WithField("count", swept).Debug("Swept expired results")
	}
}

func (sweeper *Sweeper) Shutdown() error {
	return sweeper.scheduler.Shutdown()
}
