// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wsbridge lets a page outside the process script a browsing context over a websocket.
//
// The Bridge owns one window. Every message event the window receives is written to the
// socket as an Inbound frame; Outbound frames read from the socket are posted by the
// window to its parent or opener. The first frame on a connection announces the
// window's location.
package wsbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/window"
)

const (
	TargetParent = "parent"
	TargetOpener = "opener"
)

// Inbound is a message event of the bridged window.
type Inbound struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
	// Location is only set on the first frame, once the window is attached.
	Location string `json:"location,omitempty"`
}

// Outbound asks the bridged window to post Data to its parent or opener.
type Outbound struct {
	Target       string          `json:"target"`
	TargetOrigin string          `json:"targetOrigin"`
	Data         json.RawMessage `json:"data"`
}

type Bridge struct {
	win  window.Window
	conn *websocket.Conn

	writeMutex sync.Mutex
}

func New(win window.Window, conn *websocket.Conn) *Bridge {
	return &Bridge{win: win, conn: conn}
}

func (bridge *Bridge) writeJSON(v any) error {
	bridge.writeMutex.Lock()
	defer bridge.writeMutex.Unlock()
	return bridge.conn.WriteJSON(v)
}

// Run relays until the socket closes or ctx is done. The connection is closed on return.
func (bridge *Bridge) Run(ctx context.Context) error {
	listener := bridge.win.AddMessageListener(bridge.forward)
	defer bridge.win.RemoveListener(listener)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = bridge.conn.Close()
		case <-done:
		}
	}()
	defer bridge.conn.Close()

	if err := bridge.writeJSON(Inbound{Location: bridge.win.Location(), Data: json.RawMessage("null")}); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"location": bridge.win.Location(),
		"remote":   bridge.conn.RemoteAddr(),
	}).Info("Bridged window to remote page")

	for {
		var frame Outbound
		if err := bridge.conn.ReadJSON(&frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithField("location", bridge.win.Location()).Debug("Remote page closed the bridge")
				return nil
			}
			return err
		}

		if err := bridge.post(frame); err != nil {
			log.WithFields(log.Fields{
				"target": frame.Target,
				"error":  err,
			}).Warn("Dropping frame from remote page")
		}
	}
}

func (bridge *Bridge) post(frame Outbound) error {
	var target window.Target
	switch frame.Target {
	case TargetParent:
		target = bridge.win.Parent()
	case TargetOpener:
		target = bridge.win.Opener()
	default:
		return NewUnknownTargetError(frame.Target)
	}
	if target == nil {
		return NewUnknownTargetError(frame.Target)
	}
	if frame.TargetOrigin == "" {
		return NewMissingTargetOriginError()
	}
	return target.PostMessage(frame.Data, frame.TargetOrigin)
}

func (bridge *Bridge) forward(event window.MessageEvent) {
	data := json.RawMessage(event.Data)
	if !json.Valid(data) {
		encoded, err := json.Marshal(string(event.Data))
		if err != nil {
			return
		}
		data = encoded
	}

	if err := bridge.writeJSON(Inbound{Origin: event.Origin, Data: data}); err != nil {
		log.WithError(err).Debug("Failed to forward message to remote page")
	}
}
