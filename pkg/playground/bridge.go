// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

import (
	"errors"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/window/memwindow"
	"github.com/dtn7/web-activities/pkg/window/wsbridge"
)

// Attach queues a remote page for the next document loaded at origin.
// Only one remote page may wait per origin.
func (playground *Playground) Attach(origin string, conn *websocket.Conn) error {
	queue, ok := playground.bridges[origin]
	if !ok {
		return NewNotBridgedError(origin)
	}

	select {
	case queue <- conn:
		log.WithFields(log.Fields{
			"origin": origin,
			"remote": conn.RemoteAddr(),
		}).Info("Remote page waits for a document")
		return nil
	default:
		return errors.New("another remote page is already waiting for " + origin)
	}
}

func (playground *Playground) bridgePage(origin string) memwindow.PageFunc {
	return func(w *memwindow.Window) {
		var conn *websocket.Conn
		select {
		case conn = <-playground.bridges[origin]:
		case <-time.After(playground.config.ConnectTimeout):
			log.WithField("location", w.Location()).Warn("No remote page attached in time")
			return
		case <-playground.ctx.Done():
			return
		}

		if err := wsbridge.New(w, conn).Run(playground.ctx); err != nil && playground.ctx.Err() == nil {
			log.WithFields(log.Fields{
				"location": w.Location(),
				"error":    err,
			}).Warn("Remote page bridge failed")
		}
	}
}
