// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activities"
	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/iframe"
	"github.com/dtn7/web-activities/pkg/ports"
	"github.com/dtn7/web-activities/pkg/window/memwindow"
)

// Flow is a scripted activity host which always ends with the same outcome.
type Flow struct {
	Origin  string
	Outcome activity.ResultCode
	// Data is the result of an ok outcome.
	Data json.RawMessage
	// Reason is the error message of a failed outcome.
	Reason string
	// Delay is waited after the host is ready.
	Delay time.Duration
	// Height is the content height the host asks its iframe for; zero skips resizing.
	Height int
}

func (flow Flow) page(connectTimeout time.Duration) memwindow.PageFunc {
	return func(w *memwindow.Window) {
		logger := log.WithFields(log.Fields{
			"origin":   flow.Origin,
			"location": w.Location(),
		})

		// Without parent or opener the activity was started by redirect.
		if w.Parent() == nil && w.Opener() == nil {
			flow.redirectBack(w, logger)
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		host, err := activities.New(w, nil).ConnectHost(ctx)
		if err != nil {
			logger.WithError(err).Warn("Flow could not connect to its publisher")
			return
		}

		if flow.Height > 0 {
			host.SetSizeContainer(memwindow.NewElement(flow.Height))
		}
		if err := host.Ready(); err != nil {
			logger.WithError(err).Warn("Flow failed to signal readiness")
			return
		}

		time.Sleep(flow.Delay)

		if err := flow.finish(host); err != nil {
			logger.WithError(err).Warn("Flow failed to send its result")
			return
		}
		logger.WithField("outcome", flow.Outcome).Debug("Flow finished")
	}
}

func (flow Flow) finish(host *iframe.Host) error {
	switch flow.Outcome {
	case activity.ResultCanceled:
		return host.Cancel()
	case activity.ResultFailed:
		return host.Failed(errors.New(flow.Reason))
	default:
		return host.Result(flow.Data)
	}
}

func (flow Flow) data() any {
	switch flow.Outcome {
	case activity.ResultCanceled:
		return nil
	case activity.ResultFailed:
		return flow.Reason
	default:
		return flow.Data
	}
}

func (flow Flow) redirectBack(w *memwindow.Window, logger *log.Entry) {
	request, err := ports.ParseRequest(w.Location())
	if err != nil {
		logger.WithError(err).Warn("Flow was loaded without an activity request")
		return
	}

	time.Sleep(flow.Delay)

	returnURL, err := ports.ReturnURL(request, w.Origin(), flow.Outcome, flow.data())
	if err != nil {
		logger.WithError(err).Warn("Flow failed to encode its result")
		return
	}

	logger.WithFields(log.Fields{
		"request": request.RequestID,
		"outcome": flow.Outcome,
	}).Debug("Flow returns by redirect")
	w.Navigate(returnURL)
}
