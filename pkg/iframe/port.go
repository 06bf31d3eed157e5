// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iframe

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/window"
)

type PortOption func(*Port)

// WithTargetOrigin pins the host's origin explicitly instead of deriving it from the URL.
func WithTargetOrigin(origin string) PortOption {
	return func(port *Port) {
		port.targetOrigin = origin
	}
}

// Port drives an activity hosted in an iframe of the embedding page.
type Port struct {
	win          window.Window
	frame        window.Frame
	url          string
	targetOrigin string
	args         json.RawMessage
	messenger    *messenger.Messenger

	stateMutex    sync.Mutex
	connected     bool
	connectedChan chan struct{}
	result        *activity.Result
	resultChan    chan struct{}
	readyChan     chan struct{}
	onResize      func(height int)
	pendingHeight int
	heightPending bool
	onMessage     func(payload json.RawMessage)
}

// NewPort prepares a port loading rawURL into frame once connected. Args are sent
// to the host with the start command and must therefore be JSON encodable.
func NewPort(win window.Window, frame window.Frame, rawURL string, args any, opts ...PortOption) (*Port, error) {
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	port := Port{
		win:           win,
		frame:         frame,
		url:           rawURL,
		args:          encodedArgs,
		connectedChan: make(chan struct{}),
		resultChan:    make(chan struct{}),
		readyChan:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(&port)
	}

	if port.targetOrigin == "" {
		if port.targetOrigin, err = window.OriginOf(rawURL); err != nil {
			return nil, err
		}
	}

	port.messenger = messenger.New(win, messenger.LazyTarget(frame.ContentWindow), port.targetOrigin)
	return &port, nil
}

// Connect loads the activity into the iframe and blocks until the host's handshake.
// The iframe must already be part of the document.
func (port *Port) Connect(ctx context.Context) error {
	if !port.frame.Attached() {
		return NewNotInDocumentError(port.url)
	}

	// Listen before loading, the host may connect right away.
	if err := port.messenger.Connect(port.handleCommand); err != nil {
		return err
	}
	port.frame.SetSrc(port.url)

	log.WithFields(log.Fields{
		"url":          port.url,
		"targetOrigin": port.targetOrigin,
	}).Debug("Port loading activity")

	select {
	case <-port.connectedChan:
		return nil
	case <-ctx.Done():
		port.Disconnect()
		return ctx.Err()
	}
}

// Disconnect stops listening; a pending result is never delivered.
func (port *Port) Disconnect() {
	port.stateMutex.Lock()
	port.connected = false
	port.stateMutex.Unlock()

	port.messenger.Disconnect()
}

func (port *Port) Connected() bool {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	return port.connected
}

func (port *Port) TargetOrigin() string {
	return port.targetOrigin
}

// AcceptResult blocks until the host reports its result.
func (port *Port) AcceptResult(ctx context.Context) (*activity.Result, error) {
	select {
	case <-port.resultChan:
		port.stateMutex.Lock()
		defer port.stateMutex.Unlock()
		return port.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// WhenReady blocks until the host signals that it rendered.
func (port *Port) WhenReady(ctx context.Context) error {
	select {
	case <-port.readyChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnResizeRequest registers the callback for height requests of the host. A request
// which arrived before registration is replayed immediately.
func (port *Port) OnResizeRequest(callback func(height int)) {
	port.stateMutex.Lock()
	port.onResize = callback
	height, pending := port.pendingHeight, port.heightPending
	port.heightPending = false
	port.stateMutex.Unlock()

	if pending && callback != nil {
		callback(height)
	}
}

func (port *Port) OnMessage(callback func(payload json.RawMessage)) {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	port.onMessage = callback
}

// Resized reports the iframe's current height to the host. It is ignored while the
// host is not connected.
func (port *Port) Resized() error {
	if !port.Connected() {
		return nil
	}
	height := port.frame.OffsetHeight()
	return port.messenger.SendCommand(messenger.CmdResized, messenger.SizePayload{Height: height})
}

// Message sends an application message to the host.
func (port *Port) Message(payload any) error {
	if !port.Connected() {
		return messenger.NewNotConnectedError("message")
	}
	return port.messenger.SendCommand(messenger.CmdMessage, payload)
}

func (port *Port) handleCommand(cmd string, payload json.RawMessage) {
	log.WithField("cmd", cmd).Trace("Port received command")

	switch cmd {
	case messenger.CmdConnect:
		if err := port.messenger.SendCommand(messenger.CmdStart, port.args); err != nil {
			log.WithError(err).Warn("Port failed to start activity")
			return
		}

		port.stateMutex.Lock()
		port.connected = true
		port.stateMutex.Unlock()

		// Commands are handled on the window's event loop, so closing cannot race.
		port.closeOnce(port.connectedChan)

	case messenger.CmdResult:
		source := activity.Source{
			Mode:           activity.ModeIframe,
			Origin:         port.targetOrigin,
			OriginVerified: true,
			SecureChannel:  true,
		}
		result, err := activity.ParsePayload(payload, source)
		if err != nil {
			log.WithError(err).Debug("Port ignores malformed result")
			return
		}

		port.stateMutex.Lock()
		if port.result != nil {
			port.stateMutex.Unlock()
			log.Debug("Port ignores repeated result")
			return
		}
		port.result = result
		port.connected = false
		port.stateMutex.Unlock()
		close(port.resultChan)

		log.WithField("result", result).Debug("Port accepted result")
		if err := port.messenger.SendCommand(messenger.CmdClose, nil); err != nil {
			log.WithError(err).Debug("Port failed to send close")
		}

	case messenger.CmdReady:
		port.closeOnce(port.readyChan)

	case messenger.CmdResize:
		var size messenger.SizePayload
		if err := json.Unmarshal(payload, &size); err != nil {
			log.WithError(err).Debug("Port ignores malformed resize payload")
			return
		}

		port.stateMutex.Lock()
		callback := port.onResize
		if callback == nil {
			port.pendingHeight = size.Height
			port.heightPending = true
		}
		port.stateMutex.Unlock()

		if callback != nil {
			callback(size.Height)
		}

	case messenger.CmdMessage:
		port.stateMutex.Lock()
		callback := port.onMessage
		port.stateMutex.Unlock()

		if callback != nil {
			callback(payload)
		}

	default:
		log.WithField("cmd", cmd).Debug("Port ignores unknown command")
	}
}

func (port *Port) closeOnce(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}
