// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package iframe implements both ends of an activity hosted in an iframe.
//
// The Host runs inside the iframe: it performs the handshake with its parent, reports
// readiness and the height it needs, and finally sends exactly one result. The Port
// runs in the embedding page: it loads the iframe, answers the handshake with the
// activity arguments, negotiates the iframe height and hands the result to the caller.
//
// A conversation between the two looks like this:
//
//	host -> port  connect          (posted to "*", the host does not know the origin yet)
//	port -> host  start {args}     (the host pins the port's origin)
//	host -> port  ready
//	host -> port  resize {height}
//	port -> host  resized {height}
//	host -> port  result {code, data}
//	port -> host  close            (the host disconnects)
package iframe

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/window"
)

// ResizeSettleDelay is how long Resized waits for layout to settle before measuring.
const ResizeSettleDelay = 50 * time.Millisecond

// ResizeCompleteFunc receives the height granted by the port, the height last requested
// and whether the grant is smaller than the request.
type ResizeCompleteFunc func(allowedHeight, requestedHeight int, overflow bool)

type HostOption func(*Host)

// WithCloseAckTimeout makes the host disconnect itself if the port does not acknowledge
// a result with close within timeout. Without it the host waits indefinitely.
func WithCloseAckTimeout(timeout time.Duration) HostOption {
	return func(host *Host) {
		host.closeAckTimeout = timeout
	}
}

type Host struct {
	win             window.Window
	messenger       *messenger.Messenger
	closeAckTimeout time.Duration

	stateMutex       sync.Mutex
	args             json.RawMessage
	connected        bool
	connectedChan    chan struct{}
	resultSent       bool
	requestedHeight  int
	heightRequested  bool
	lastWidth        int
	resizeListener   window.ListenerID
	listeningResize  bool
	sizeContainer    window.Element
	onResizeComplete ResizeCompleteFunc
	onMessage        func(payload json.RawMessage)
}

// NewHost creates the host of an activity embedded in win's parent.
func NewHost(win window.Window, opts ...HostOption) *Host {
	return NewHostWithTarget(win, win.Parent(), opts...)
}

// NewHostWithTarget creates a host talking to target, e.g. the opener of a popup.
func NewHostWithTarget(win window.Window, target window.Target, opts ...HostOption) *Host {
	host := Host{
		win:       win,
		messenger: messenger.New(win, messenger.NewFixedTarget(target), ""),
	}
	for _, opt := range opts {
		opt(&host)
	}
	return &host
}

// Connect sends the handshake and blocks until the port answers with start.
// Giving up through ctx disconnects the host again.
func (host *Host) Connect(ctx context.Context) error {
	connectedChan := make(chan struct{})

	host.stateMutex.Lock()
	host.connected = false
	host.connectedChan = connectedChan
	host.stateMutex.Unlock()

	if err := host.messenger.Connect(host.handleCommand); err != nil {
		return err
	}
	if err := host.messenger.SendCommand(messenger.CmdConnect, nil); err != nil {
		host.Disconnect()
		return err
	}

	select {
	case <-connectedChan:
		return nil
	case <-ctx.Done():
		log.WithField("window", host.win.Location()).Debug("Host gave up waiting for start")
		host.Disconnect()
		return ctx.Err()
	}
}

// Disconnect stops listening for commands and resize events.
func (host *Host) Disconnect() {
	host.stateMutex.Lock()
	host.connected = false
	if host.listeningResize {
		host.win.RemoveListener(host.resizeListener)
		host.listeningResize = false
	}
	host.stateMutex.Unlock()

	host.messenger.Disconnect()
}

func (host *Host) Connected() bool {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	return host.connected
}

func (host *Host) ensureConnected(operation string) error {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	if !host.connected {
		return messenger.NewNotConnectedError(operation)
	}
	return nil
}

// Args returns the raw arguments the port sent with start.
func (host *Host) Args() (json.RawMessage, error) {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	if !host.connected {
		return nil, messenger.NewNotConnectedError("args")
	}
	return host.args, nil
}

// DecodeArgs unmarshals the start arguments into v.
func (host *Host) DecodeArgs(v any) error {
	args, err := host.Args()
	if err != nil {
		return err
	}
	return json.Unmarshal(args, v)
}

// TargetOrigin returns the origin of the embedding page.
func (host *Host) TargetOrigin() (string, error) {
	if err := host.ensureConnected("target origin"); err != nil {
		return "", err
	}
	return host.messenger.TargetOrigin()
}

// SetSizeContainer sets the element whose scroll height is reported to the port.
func (host *Host) SetSizeContainer(element window.Element) {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	host.sizeContainer = element
}

func (host *Host) OnResizeComplete(callback ResizeCompleteFunc) {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	host.onResizeComplete = callback
}

func (host *Host) OnMessage(callback func(payload json.RawMessage)) {
	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	host.onMessage = callback
}

// Ready tells the port the activity is rendered, reports the current height and starts
// tracking viewport width changes.
func (host *Host) Ready() error {
	if err := host.ensureConnected("ready"); err != nil {
		return err
	}
	if err := host.messenger.SendCommand(messenger.CmdReady, nil); err != nil {
		return err
	}
	if err := host.resizeNow(); err != nil {
		return err
	}

	host.stateMutex.Lock()
	defer host.stateMutex.Unlock()
	if !host.listeningResize {
		host.lastWidth = host.win.InnerWidth()
		host.resizeListener = host.win.AddResizeListener(host.handleResizeEvent)
		host.listeningResize = true
	}
	return nil
}

// Resized re-measures the size container once layout had time to settle.
func (host *Host) Resized() error {
	if err := host.ensureConnected("resized"); err != nil {
		return err
	}
	host.win.Schedule(func() {
		if err := host.resizeNow(); err != nil {
			log.WithError(err).Debug("Host failed to send resize")
		}
	}, ResizeSettleDelay)
	return nil
}

// resizeNow sends the container's height if it differs from the last request.
func (host *Host) resizeNow() error {
	host.stateMutex.Lock()
	if !host.connected || host.sizeContainer == nil {
		host.stateMutex.Unlock()
		return nil
	}
	height := host.sizeContainer.ScrollHeight()
	if host.heightRequested && height == host.requestedHeight {
		host.stateMutex.Unlock()
		return nil
	}
	host.requestedHeight = height
	host.heightRequested = true
	host.stateMutex.Unlock()

	log.WithField("height", height).Debug("Host requests resize")
	return host.messenger.SendCommand(messenger.CmdResize, messenger.SizePayload{Height: height})
}

func (host *Host) handleResizeEvent() {
	width := host.win.InnerWidth()

	host.stateMutex.Lock()
	if width == host.lastWidth {
		host.stateMutex.Unlock()
		return
	}
	host.lastWidth = width
	host.stateMutex.Unlock()

	if err := host.Resized(); err != nil {
		log.WithError(err).Debug("Ignoring viewport resize")
	}
}

// Result completes the activity successfully with data.
func (host *Host) Result(data any) error {
	return host.sendResult(activity.ResultOK, data)
}

// Cancel completes the activity as canceled.
func (host *Host) Cancel() error {
	return host.sendResult(activity.ResultCanceled, nil)
}

// Failed completes the activity as failed; the port sees reason's message.
func (host *Host) Failed(reason error) error {
	var data any
	if reason != nil {
		data = reason.Error()
	}
	return host.sendResult(activity.ResultFailed, data)
}

// sendResult sends the single result of this activity. The host stays connected
// until the port acknowledges with close.
func (host *Host) sendResult(code activity.ResultCode, data any) error {
	payload, err := activity.NewPayload(code, data)
	if err != nil {
		return err
	}

	host.stateMutex.Lock()
	if !host.connected {
		host.stateMutex.Unlock()
		return messenger.NewNotConnectedError("result")
	}
	if host.resultSent {
		host.stateMutex.Unlock()
		return NewResultAlreadySentError()
	}
	host.resultSent = true
	host.stateMutex.Unlock()

	log.WithField("code", code).Debug("Host sends result")
	if err := host.messenger.SendCommand(messenger.CmdResult, payload); err != nil {
		host.stateMutex.Lock()
		host.resultSent = false
		host.stateMutex.Unlock()
		return err
	}

	if host.closeAckTimeout > 0 {
		host.win.Schedule(func() {
			if host.messenger.Connected() {
				log.WithField("timeout", host.closeAckTimeout).Warn("Result was not acknowledged, disconnecting host")
				host.Disconnect()
			}
		}, host.closeAckTimeout)
	}
	return nil
}

// Message sends an application message to the port.
func (host *Host) Message(payload any) error {
	if err := host.ensureConnected("message"); err != nil {
		return err
	}
	return host.messenger.SendCommand(messenger.CmdMessage, payload)
}

func (host *Host) handleCommand(cmd string, payload json.RawMessage) {
	log.WithField("cmd", cmd).Trace("Host received command")

	switch cmd {
	case messenger.CmdStart:
		host.stateMutex.Lock()
		host.args = append(json.RawMessage(nil), payload...)
		host.connected = true
		connectedChan := host.connectedChan
		host.connectedChan = nil
		host.stateMutex.Unlock()

		if connectedChan != nil {
			close(connectedChan)
		}

	case messenger.CmdClose:
		host.Disconnect()

	case messenger.CmdResized:
		var size messenger.SizePayload
		if err := json.Unmarshal(payload, &size); err != nil {
			log.WithError(err).Debug("Host ignores malformed resized payload")
			return
		}

		host.stateMutex.Lock()
		callback := host.onResizeComplete
		requested := host.requestedHeight
		host.stateMutex.Unlock()

		if callback != nil {
			callback(size.Height, requested, size.Height < requested)
		}

	case messenger.CmdMessage:
		host.stateMutex.Lock()
		callback := host.onMessage
		host.stateMutex.Unlock()

		if callback != nil {
			callback(payload)
		}

	default:
		log.WithField("cmd", cmd).Debug("Host ignores unknown command")
	}
}
