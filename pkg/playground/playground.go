// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package playground runs activities end to end inside an in-process browser.
//
// A Playground owns a publisher window which starts activities in iframes, popups or
// by redirect. Activity hosts are either scripted flows with a fixed outcome or remote
// pages attached over a websocket. Outcomes are collected per request id in a Mailbox
// and can be fetched through the REST API.
package playground

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activities"
	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/ports"
	"github.com/dtn7/web-activities/pkg/store"
	"github.com/dtn7/web-activities/pkg/window"
	"github.com/dtn7/web-activities/pkg/window/memwindow"
)

const DefaultConnectTimeout = 10 * time.Second

type Config struct {
	// PublisherURL is the page activities are started from.
	PublisherURL string
	// Buffer keeps redirect results across publisher navigations. Nil buffers in memory.
	Buffer         store.ResultStore
	PortsOptions   []ports.Option
	ConnectTimeout time.Duration
	Flows          []Flow
	// BridgeOrigins are served by remote pages connecting to the websocket endpoint.
	BridgeOrigins []string
}

type Playground struct {
	config    Config
	browser   *memwindow.Browser
	publisher *memwindow.Window
	mailbox   *Mailbox

	ctx    context.Context
	cancel context.CancelFunc

	stateMutex sync.Mutex
	activities *activities.Activities
	loaded     chan struct{}
	loadedOnce sync.Once

	bridges map[string]chan *websocket.Conn
}

// New starts the browser and loads the publisher page.
func New(config Config) (*Playground, error) {
	publisherOrigin, err := window.OriginOf(config.PublisherURL)
	if err != nil {
		return nil, err
	}
	if config.Buffer == nil {
		config.Buffer = store.NewMemoryStore()
	}
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = DefaultConnectTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	playground := Playground{
		config:  config,
		browser: memwindow.NewBrowser(),
		mailbox: NewMailbox(),
		ctx:     ctx,
		cancel:  cancel,
		loaded:  make(chan struct{}),
		bridges: make(map[string]chan *websocket.Conn),
	}

	served := map[string]bool{publisherOrigin: true}
	serve := func(origin string, page memwindow.PageFunc) error {
		if served[origin] {
			return NewConflictingOriginError(origin)
		}
		served[origin] = true
		playground.browser.Serve(origin, page)
		return nil
	}

	playground.browser.Serve(publisherOrigin, playground.loadPublisher)
	for _, flow := range config.Flows {
		if err := serve(flow.Origin, flow.page(config.ConnectTimeout)); err != nil {
			playground.shutdown()
			return nil, err
		}
	}
	for _, origin := range config.BridgeOrigins {
		playground.bridges[origin] = make(chan *websocket.Conn, 1)
		if err := serve(origin, playground.bridgePage(origin)); err != nil {
			playground.shutdown()
			return nil, err
		}
	}

	playground.publisher = playground.browser.NewWindow(config.PublisherURL)

	select {
	case <-playground.loaded:
	case <-time.After(config.ConnectTimeout):
		playground.shutdown()
		return nil, fmt.Errorf("publisher page %v did not load", config.PublisherURL)
	}

	log.WithFields(log.Fields{
		"publisher": config.PublisherURL,
		"flows":     len(config.Flows),
		"bridges":   len(config.BridgeOrigins),
	}).Info("Activity playground started")
	return &playground, nil
}

// loadPublisher runs for every document loaded into the publisher window. Pending
// activities are watched again since a redirect result arrives in a new document.
func (playground *Playground) loadPublisher(w *memwindow.Window) {
	acts := activities.New(w, playground.config.Buffer, activities.WithPortsOptions(playground.config.PortsOptions...))
	acts.OnRedirectError(func(err error) {
		log.WithError(err).Warn("Publisher received a malformed activity response")
	})

	playground.stateMutex.Lock()
	playground.activities = acts
	playground.stateMutex.Unlock()

	for _, requestID := range playground.mailbox.ListPending() {
		playground.watch(acts, requestID)
	}

	log.WithField("location", w.Location()).Debug("Publisher page loaded")
	playground.loadedOnce.Do(func() { close(playground.loaded) })
}

func (playground *Playground) current() *activities.Activities {
	playground.stateMutex.Lock()
	defer playground.stateMutex.Unlock()
	return playground.activities
}

// watch moves the outcome of requestID into the mailbox once it is known.
func (playground *Playground) watch(acts *activities.Activities, requestID string) {
	acts.OnResult(requestID, func(port ports.Port) {
		result, err := port.AcceptResult(playground.ctx)
		playground.deliver(requestID, result, err)
	})
}

func (playground *Playground) deliver(requestID string, result *activity.Result, err error) {
	if deliverErr := playground.mailbox.Deliver(requestID, result, err); deliverErr != nil {
		log.WithFields(log.Fields{
			"request": requestID,
			"error":   deliverErr,
		}).Warn("Dropping activity outcome")
		return
	}

	log.WithFields(log.Fields{
		"request": requestID,
		"result":  result,
	}).Info("Activity finished")
}

func (playground *Playground) expect(requestID string) (string, error) {
	if requestID == "" {
		requestID = uuid.NewString()
	}
	if err := playground.mailbox.Expect(requestID); err != nil {
		return "", err
	}
	return requestID, nil
}

// Open starts the activity at rawURL in a popup or, for target "_top", by redirecting
// the publisher. An empty requestID is generated.
func (playground *Playground) Open(requestID, rawURL, target string, args json.RawMessage, opts *ports.OpenOptions) (string, error) {
	requestID, err := playground.expect(requestID)
	if err != nil {
		return "", err
	}

	acts := playground.current()
	playground.watch(acts, requestID)
	if _, err := acts.Open(requestID, rawURL, target, args, opts); err != nil {
		playground.mailbox.Delete(requestID)
		return "", err
	}

	log.WithFields(log.Fields{
		"request": requestID,
		"url":     rawURL,
		"target":  target,
	}).Info("Opened activity window")
	return requestID, nil
}

// OpenIframe starts the activity at rawURL in a new iframe of the publisher and returns
// once the activity connected. Resize requests are granted in full.
func (playground *Playground) OpenIframe(ctx context.Context, requestID, rawURL, origin string, args json.RawMessage) (string, error) {
	requestID, err := playground.expect(requestID)
	if err != nil {
		return "", err
	}

	frame := playground.publisher.CreateFrame()
	frame.Attach()

	ctx, cancel := context.WithTimeout(ctx, playground.config.ConnectTimeout)
	defer cancel()

	port, err := playground.current().OpenIframe(ctx, frame, rawURL, origin, args)
	if err != nil {
		frame.Detach()
		playground.mailbox.Delete(requestID)
		return "", err
	}

	port.OnResizeRequest(func(height int) {
		frame.SetOffsetHeight(height)
		if err := port.Resized(); err != nil {
			log.WithError(err).Debug("Failed to acknowledge iframe resize")
		}
	})

	go func() {
		result, err := port.AcceptResult(playground.ctx)
		frame.Detach()
		playground.deliver(requestID, result, err)
	}()

	log.WithFields(log.Fields{
		"request": requestID,
		"url":     rawURL,
	}).Info("Opened activity iframe")
	return requestID, nil
}

// Result hands out the outcome of requestID once. A request unknown to the mailbox is
// looked up in the result buffer.
func (playground *Playground) Result(requestID string) (*activity.Result, error) {
	return playground.lookup(requestID, true)
}

// Peek returns the outcome of requestID like Result, but keeps it for a later Result.
func (playground *Playground) Peek(requestID string) (*activity.Result, error) {
	return playground.lookup(requestID, false)
}

func (playground *Playground) lookup(requestID string, remove bool) (*activity.Result, error) {
	result, err := playground.mailbox.Get(requestID, remove)
	var noSuchRequest *NoSuchRequestError
	if !errors.As(err, &noSuchRequest) {
		return result, err
	}

	if expectErr := playground.mailbox.Expect(requestID); expectErr != nil {
		return playground.mailbox.Get(requestID, remove)
	}
	playground.watch(playground.current(), requestID)

	result, err = playground.mailbox.Get(requestID, remove)
	var pending *ResultPendingError
	if errors.As(err, &pending) {
		playground.mailbox.Delete(requestID)
		return nil, NewNoSuchRequestError(requestID)
	}
	return result, err
}

// Pending lists the request ids of running activities.
func (playground *Playground) Pending() []string {
	return playground.mailbox.ListPending()
}

// Unread lists the request ids of finished activities whose outcome was neither
// fetched nor peeked at.
func (playground *Playground) Unread() []string {
	return playground.mailbox.ListNew()
}

// Requests lists all request ids known to the mailbox.
func (playground *Playground) Requests() []string {
	return playground.mailbox.List()
}

// Clear forgets all requests. Activities still running deliver into a fresh entry.
func (playground *Playground) Clear() []string {
	requestIDs := playground.mailbox.List()
	playground.mailbox.Clear()
	log.WithField("requests", requestIDs).Info("Cleared mailbox")
	return requestIDs
}

func (playground *Playground) Publisher() *memwindow.Window {
	return playground.publisher
}

func (playground *Playground) shutdown() {
	playground.cancel()
	playground.browser.Close()
}

// Close stops all windows and closes the result buffer.
func (playground *Playground) Close() error {
	var err error
	if acts := playground.current(); acts != nil {
		if closeErr := acts.Close(); closeErr != nil {
			err = multierror.Append(err, closeErr)
		}
	} else if closeErr := playground.config.Buffer.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}

	playground.shutdown()
	return err
}
