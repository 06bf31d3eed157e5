// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package messenger implements the framed command channel of the activity protocol on top of postMessage.
//
// Either side of an activity owns one Messenger. The port (the embedding page) usually
// knows the target origin upfront but resolves the target window lazily; the host (the
// embedded activity) knows its target window but learns the origin from the first start
// command it receives. Only the connect command may be posted before the origin is
// known, using the wildcard origin; everything afterwards is pinned to that origin.
package messenger

import (
	"encoding/json"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/window"
)

// CommandHandler receives every verified inbound command.
type CommandHandler func(cmd string, payload json.RawMessage)

type connectionState int

const (
	stateDisconnected connectionState = iota
	stateConnected
)

func (state connectionState) String() string {
	switch state {
	case stateDisconnected:
		return "disconnected"
	case stateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type Messenger struct {
	win      window.Window
	resolver TargetResolver

	stateMutex   sync.Mutex
	state        connectionState
	handler      CommandHandler
	listener     window.ListenerID
	target       window.Target
	targetOrigin string
}

// New creates a disconnected Messenger. An empty targetOrigin is learnt from the first start command.
func New(win window.Window, resolver TargetResolver, targetOrigin string) *Messenger {
	messenger := Messenger{
		win:          win,
		resolver:     resolver,
		state:        stateDisconnected,
		targetOrigin: targetOrigin,
	}
	return &messenger
}

// Connect starts listening for commands. It fails with AlreadyConnectedError if already connected.
func (messenger *Messenger) Connect(handler CommandHandler) error {
	messenger.stateMutex.Lock()
	defer messenger.stateMutex.Unlock()

	if messenger.state == stateConnected {
		return NewAlreadyConnectedError()
	}

	messenger.handler = handler
	messenger.listener = messenger.win.AddMessageListener(messenger.handleEvent)
	messenger.state = stateConnected

	log.WithFields(log.Fields{
		"window":       messenger.win.Origin(),
		"targetOrigin": messenger.targetOrigin,
	}).Debug("Messenger connected")
	return nil
}

// Disconnect stops listening. It does nothing when not connected.
func (messenger *Messenger) Disconnect() {
	messenger.stateMutex.Lock()
	defer messenger.stateMutex.Unlock()

	if messenger.state != stateConnected {
		return
	}

	messenger.win.RemoveListener(messenger.listener)
	messenger.handler = nil
	messenger.listener = 0
	messenger.state = stateDisconnected

	log.WithField("window", messenger.win.Origin()).Debug("Messenger disconnected")
}

// Connected reports whether the Messenger is listening for commands.
func (messenger *Messenger) Connected() bool {
	messenger.stateMutex.Lock()
	defer messenger.stateMutex.Unlock()
	return messenger.state == stateConnected
}

// Target resolves the target window. Resolution happens once, after Connect.
func (messenger *Messenger) Target() (window.Target, error) {
	messenger.stateMutex.Lock()
	defer messenger.stateMutex.Unlock()
	return messenger.resolveTarget()
}

func (messenger *Messenger) resolveTarget() (window.Target, error) {
	if messenger.state != stateConnected {
		return nil, NewNotConnectedError("target")
	}
	if messenger.target == nil {
		messenger.target = messenger.resolver.Resolve()
		if messenger.target == nil {
			return nil, NewTargetUnavailableError()
		}
	}
	return messenger.target, nil
}

// TargetOrigin returns the origin commands are pinned to, once it is known.
func (messenger *Messenger) TargetOrigin() (string, error) {
	messenger.stateMutex.Lock()
	defer messenger.stateMutex.Unlock()

	if messenger.targetOrigin == "" {
		return "", NewNotConnectedError("target origin")
	}
	return messenger.targetOrigin, nil
}

// SendCommand posts a command to the target. Only CmdConnect may be sent while the
// target origin is still unknown; it then goes out with the wildcard origin.
func (messenger *Messenger) SendCommand(cmd string, payload any) error {
	messenger.stateMutex.Lock()
	target, err := messenger.resolveTarget()
	if err != nil {
		messenger.stateMutex.Unlock()
		return err
	}
	targetOrigin := messenger.targetOrigin
	messenger.stateMutex.Unlock()

	if targetOrigin == "" {
		if cmd != CmdConnect {
			return NewNotConnectedError("target origin")
		}
		targetOrigin = window.Wildcard
	}

	data, err := EncodeFrame(cmd, payload)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"cmd":          cmd,
		"targetOrigin": targetOrigin,
	}).Trace("Sending command")
	return target.PostMessage(data, targetOrigin)
}

func (messenger *Messenger) handleEvent(event window.MessageEvent) {
	frame, ok := DecodeFrame(event.Data)
	if !ok {
		return
	}

	messenger.stateMutex.Lock()
	if messenger.state != stateConnected {
		messenger.stateMutex.Unlock()
		return
	}
	if messenger.targetOrigin == "" && frame.Cmd == CmdStart {
		messenger.targetOrigin = event.Origin
		log.WithField("origin", event.Origin).Debug("Learnt target origin from start command")
	}
	if event.Origin != messenger.targetOrigin {
		expected := messenger.targetOrigin
		messenger.stateMutex.Unlock()
		log.WithFields(log.Fields{
			"cmd":      frame.Cmd,
			"origin":   event.Origin,
			"expected": expected,
		}).Trace("Ignoring command from unexpected origin")
		return
	}
	handler := messenger.handler
	messenger.stateMutex.Unlock()

	handler(frame.Cmd, frame.Payload)
}
