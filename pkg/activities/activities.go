// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package activities is the entry point for pages which start activities or host them.
package activities

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/iframe"
	"github.com/dtn7/web-activities/pkg/ports"
	"github.com/dtn7/web-activities/pkg/store"
	"github.com/dtn7/web-activities/pkg/window"
)

type Option func(*Activities)

// WithPortsOptions configures the popup and redirect orchestrator.
func WithPortsOptions(opts ...ports.Option) Option {
	return func(activities *Activities) {
		activities.portsOptions = append(activities.portsOptions, opts...)
	}
}

// Activities bundles everything a page needs to open activities or to act as one.
type Activities struct {
	win          window.Window
	portsOptions []ports.Option
	ports        *ports.Ports
}

// New prepares win. Results of redirected activities are buffered in buffer; nil
// buffers them in memory.
func New(win window.Window, buffer store.ResultStore, opts ...Option) *Activities {
	activities := Activities{win: win}
	for _, opt := range opts {
		opt(&activities)
	}
	activities.ports = ports.New(win, buffer, activities.portsOptions...)
	return &activities
}

func (activities *Activities) Window() window.Window {
	return activities.win
}

// OpenIframe loads the activity at rawURL into frame and returns the port once the
// activity connected. An empty origin is derived from rawURL.
func (activities *Activities) OpenIframe(ctx context.Context, frame window.Frame, rawURL, origin string, args any) (*iframe.Port, error) {
	var opts []iframe.PortOption
	if origin != "" {
		opts = append(opts, iframe.WithTargetOrigin(origin))
	}

	port, err := iframe.NewPort(activities.win, frame, rawURL, args, opts...)
	if err != nil {
		return nil, err
	}
	if err := port.Connect(ctx); err != nil {
		log.WithFields(log.Fields{
			"url":   rawURL,
			"error": err,
		}).Debug("Activity iframe did not connect")
		return nil, err
	}
	return port, nil
}

// ConnectHost connects the activity running in this window to the page which started it:
// the parent for iframes, the opener for popups.
func (activities *Activities) ConnectHost(ctx context.Context, opts ...iframe.HostOption) (*iframe.Host, error) {
	var host *iframe.Host
	if parent := activities.win.Parent(); parent != nil {
		host = iframe.NewHost(activities.win, opts...)
	} else {
		host = iframe.NewHostWithTarget(activities.win, activities.win.Opener(), opts...)
	}

	if err := host.Connect(ctx); err != nil {
		return nil, err
	}
	return host, nil
}

func (activities *Activities) Ports() *ports.Ports {
	return activities.ports
}

func (activities *Activities) Open(requestID, rawURL, target string, args any, opts *ports.OpenOptions) (window.Handle, error) {
	return activities.ports.Open(requestID, rawURL, target, args, opts)
}

func (activities *Activities) OpenWithMessaging(requestID, rawURL, target string, args any, opts *ports.OpenOptions) (*ports.WindowPort, error) {
	return activities.ports.OpenWithMessaging(requestID, rawURL, target, args, opts)
}

func (activities *Activities) OnResult(requestID string, handler ports.ResultHandler) {
	activities.ports.OnResult(requestID, handler)
}

func (activities *Activities) OnRedirectError(handler func(err error)) {
	activities.ports.OnRedirectError(handler)
}

func (activities *Activities) Close() error {
	return activities.ports.Close()
}
