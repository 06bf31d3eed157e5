// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ports

import (
	"context"
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/window"
)

// WindowPort is the embedder's end of an activity opened in a popup. The popup talks
// the same command protocol as an iframe host, addressed to its opener.
type WindowPort struct {
	ports        *Ports
	requestID    string
	mode         activity.Mode
	targetOrigin string
	args         json.RawMessage
	messenger    *messenger.Messenger

	stateMutex    sync.Mutex
	handle        window.Handle
	startPending  bool
	connected     bool
	connectedChan chan struct{}
	disconnected  bool
	result        *activity.Result
	resultChan    chan struct{}
	onMessage     func(payload json.RawMessage)
}

func newWindowPort(ports *Ports, requestID string, mode activity.Mode, targetOrigin string, args json.RawMessage) *WindowPort {
	port := WindowPort{
		ports:         ports,
		requestID:     requestID,
		mode:          mode,
		targetOrigin:  targetOrigin,
		args:          args,
		connectedChan: make(chan struct{}),
		resultChan:    make(chan struct{}),
	}
	port.messenger = messenger.New(ports.win, messenger.LazyTarget(port.target), targetOrigin)
	return &port
}

func (port *WindowPort) target() window.Target {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	if port.handle == nil {
		return nil
	}
	return port.handle
}

// listen starts accepting commands. It has to happen before the popup is opened since
// the activity may connect before Open returns.
func (port *WindowPort) listen() error {
	return port.messenger.Connect(port.handleCommand)
}

// attach binds the opened popup, answers a handshake which arrived early and starts
// watching the popup for being closed.
func (port *WindowPort) attach(handle window.Handle) {
	port.stateMutex.Lock()
	port.handle = handle
	startPending := port.startPending
	port.startPending = false
	port.stateMutex.Unlock()

	if startPending {
		port.start()
	}
	port.ports.win.Schedule(port.poll, port.ports.pollInterval)
}

func (port *WindowPort) RequestID() string {
	return port.requestID
}

func (port *WindowPort) Mode() activity.Mode {
	return port.mode
}

func (port *WindowPort) TargetOrigin() string {
	return port.targetOrigin
}

// Handle returns the popup, nil for redirects.
func (port *WindowPort) Handle() window.Handle {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	return port.handle
}

func (port *WindowPort) Connected() bool {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	return port.connected
}

// WhenConnected blocks until the activity in the popup completed the handshake.
func (port *WindowPort) WhenConnected(ctx context.Context) error {
	select {
	case <-port.connectedChan:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AcceptResult blocks until the activity's result is known. Closing the popup without
// a result yields a canceled result.
func (port *WindowPort) AcceptResult(ctx context.Context) (*activity.Result, error) {
	select {
	case <-port.resultChan:
		port.stateMutex.Lock()
		defer port.stateMutex.Unlock()
		return port.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (port *WindowPort) OnMessage(callback func(payload json.RawMessage)) {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	port.onMessage = callback
}

func (port *WindowPort) Message(payload any) error {
	if !port.Connected() {
		return messenger.NewNotConnectedError("message")
	}
	return port.messenger.SendCommand(messenger.CmdMessage, payload)
}

// Disconnect stops listening and closes the popup. No result is delivered afterwards.
func (port *WindowPort) Disconnect() {
	port.stateMutex.Lock()
	port.disconnected = true
	port.connected = false
	handle := port.handle
	port.stateMutex.Unlock()

	port.messenger.Disconnect()
	port.ports.forget(port.requestID)
	if handle != nil {
		handle.Close()
	}
}

func (port *WindowPort) start() {
	if err := port.messenger.SendCommand(messenger.CmdStart, port.args); err != nil {
		log.WithFields(log.Fields{
			"request": port.requestID,
			"error":   err,
		}).Warn("Failed to start activity in window")
		return
	}

	port.stateMutex.Lock()
	port.connected = true
	port.stateMutex.Unlock()

	select {
	case <-port.connectedChan:
	default:
		close(port.connectedChan)
	}
}

// resolve settles the port with result once and hands it to the result handler or buffer.
func (port *WindowPort) resolve(result *activity.Result) bool {
	port.stateMutex.Lock()
	if port.result != nil || port.disconnected {
		port.stateMutex.Unlock()
		return false
	}
	port.result = result
	port.connected = false
	handle := port.handle
	port.stateMutex.Unlock()
	close(port.resultChan)

	port.messenger.Disconnect()
	if handle != nil && !handle.Closed() {
		handle.Close()
	}

	log.WithFields(log.Fields{
		"request": port.requestID,
		"result":  result,
	}).Debug("Window activity resolved")
	port.ports.deliver(port.requestID, port, result)
	return true
}

func (port *WindowPort) settled() bool {
	port.stateMutex.Lock()
	defer port.stateMutex.Unlock()
	return port.result != nil || port.disconnected
}

// poll watches for the popup being closed. A closed popup gets a grace period for a
// result still in flight before the activity counts as canceled.
func (port *WindowPort) poll() {
	if port.settled() {
		return
	}

	handle := port.Handle()
	if !handle.Closed() {
		port.ports.win.Schedule(port.poll, port.ports.pollInterval)
		return
	}

	log.WithField("request", port.requestID).Debug("Activity window closed, waiting for a late result")
	port.ports.win.Schedule(func() {
		source := activity.Source{Mode: port.mode, Origin: port.targetOrigin}
		port.resolve(activity.NewResult(activity.ResultCanceled, nil, source))
	}, port.ports.closeGrace)
}

func (port *WindowPort) handleCommand(cmd string, payload json.RawMessage) {
	log.WithFields(log.Fields{
		"request": port.requestID,
		"cmd":     cmd,
	}).Trace("Window port received command")

	switch cmd {
	case messenger.CmdConnect:
		port.stateMutex.Lock()
		attached := port.handle != nil
		port.startPending = !attached
		port.stateMutex.Unlock()

		if attached {
			port.start()
		}

	case messenger.CmdResult:
		source := activity.Source{
			Mode:           port.mode,
			Origin:         port.targetOrigin,
			OriginVerified: true,
			SecureChannel:  true,
		}
		result, err := activity.ParsePayload(payload, source)
		if err != nil {
			log.WithError(err).Debug("Window port ignores malformed result")
			return
		}

		if err := port.messenger.SendCommand(messenger.CmdClose, nil); err != nil {
			log.WithError(err).Debug("Window port failed to send close")
		}
		port.resolve(result)

	case messenger.CmdMessage:
		port.stateMutex.Lock()
		callback := port.onMessage
		port.stateMutex.Unlock()

		if callback != nil {
			callback(payload)
		}

	default:
		log.WithField("cmd", cmd).Debug("Window port ignores command")
	}
}
