// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package ports opens activities in popups or by redirect and routes their results.
//
// Results are matched to the caller by a request id. Because a redirect replaces the
// embedding page, results can arrive before anyone asked for them; these are kept in a
// store.ResultStore until OnResult is registered for their request id. Each buffered
// result is delivered at most once.
package ports

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/store"
	"github.com/dtn7/web-activities/pkg/window"
)

const (
	DefaultPollInterval = 500 * time.Millisecond
	DefaultCloseGrace   = time.Second

	targetTop    = "_top"
	targetBlank  = "_blank"
	targetSelf   = "_self"
	targetParent = "_parent"
)

// Port is a settled or pending activity handed to result handlers.
type Port interface {
	RequestID() string
	Mode() activity.Mode
	TargetOrigin() string
	AcceptResult(ctx context.Context) (*activity.Result, error)
}

// ResultHandler receives the port of a finished activity.
type ResultHandler func(port Port)

// OpenOptions tune a single Open call. A nil *OpenOptions uses the defaults.
type OpenOptions struct {
	// DisableRedirectFallback fails the activity instead of redirecting when the popup is blocked.
	DisableRedirectFallback bool
	// ReturnURL is where a redirect host navigates back to; defaults to the current location.
	ReturnURL string
	// SkipRequestInURL opens the URL as given, without the request fragment.
	SkipRequestInURL bool
	// Features are passed on to window.open.
	Features string
}

type Option func(*Ports)

func WithPollInterval(interval time.Duration) Option {
	return func(ports *Ports) {
		ports.pollInterval = interval
	}
}

func WithCloseGrace(grace time.Duration) Option {
	return func(ports *Ports) {
		ports.closeGrace = grace
	}
}

// WithResultTTL limits how long an unclaimed result stays buffered. Zero keeps it until claimed.
func WithResultTTL(ttl time.Duration) Option {
	return func(ports *Ports) {
		ports.resultTTL = ttl
	}
}

type Ports struct {
	win          window.Window
	buffer       store.ResultStore
	pollInterval time.Duration
	closeGrace   time.Duration
	resultTTL    time.Duration

	// dispatchMutex makes handler lookup plus buffering atomic against OnResult.
	dispatchMutex sync.Mutex

	stateMutex      sync.Mutex
	handlers        map[string]ResultHandler
	windowPorts     map[string]*WindowPort
	onRedirectError func(err error)
	redirectErrors  []error
}

// New creates the orchestrator for win and picks up a result the current location was
// navigated to by a redirect host. A nil buffer keeps results in memory.
func New(win window.Window, buffer store.ResultStore, opts ...Option) *Ports {
	if buffer == nil {
		buffer = store.NewMemoryStore()
	}

	ports := Ports{
		win:          win,
		buffer:       buffer,
		pollInterval: DefaultPollInterval,
		closeGrace:   DefaultCloseGrace,
		handlers:     make(map[string]ResultHandler),
		windowPorts:  make(map[string]*WindowPort),
	}
	for _, opt := range opts {
		opt(&ports)
	}

	ports.DiscoverRedirect()
	return &ports
}

// Open starts the activity at rawURL. Target "_top" redirects the current window, every
// other target except "_self" and "_parent" names a popup. The popup's handle is
// returned; it is nil for redirects and failed opens.
func (ports *Ports) Open(requestID, rawURL, target string, args any, opts *OpenOptions) (window.Handle, error) {
	port, err := ports.open(requestID, rawURL, target, args, opts)
	if err != nil {
		return nil, err
	}
	return port.Handle(), nil
}

// OpenWithMessaging is like Open but returns the port, giving access to messages
// exchanged with a popup.
func (ports *Ports) OpenWithMessaging(requestID, rawURL, target string, args any, opts *OpenOptions) (*WindowPort, error) {
	return ports.open(requestID, rawURL, target, args, opts)
}

func (ports *Ports) open(requestID, rawURL, target string, args any, opts *OpenOptions) (*WindowPort, error) {
	switch target {
	case targetSelf, targetParent:
		return nil, NewInvalidTargetError(target)
	case "":
		target = targetBlank
	}
	if opts == nil {
		opts = &OpenOptions{}
	}

	targetOrigin, err := window.OriginOf(rawURL)
	if err != nil {
		return nil, err
	}
	encodedArgs, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	returnURL := opts.ReturnURL
	if returnURL == "" {
		returnURL = withoutParam(ports.win.Location(), ResponseParam)
	}
	request := Request{
		RequestID: requestID,
		ReturnURL: returnURL,
		Args:      encodedArgs,
		Origin:    ports.win.Origin(),
	}

	activityURL := rawURL
	if !opts.SkipRequestInURL {
		if activityURL, err = AppendRequest(rawURL, &request); err != nil {
			return nil, err
		}
	}

	logger := log.WithFields(log.Fields{
		"request": requestID,
		"url":     rawURL,
		"target":  target,
	})

	if target == targetTop {
		logger.Debug("Opening activity by redirect")
		return ports.redirect(requestID, targetOrigin, encodedArgs, activityURL), nil
	}

	port := newWindowPort(ports, requestID, activity.ModePopup, targetOrigin, encodedArgs)
	if err := port.listen(); err != nil {
		return nil, err
	}

	handle := ports.win.Open(activityURL, target, opts.Features)
	if handle == nil {
		port.messenger.Disconnect()

		if opts.DisableRedirectFallback {
			logger.Info("Popup blocked, failing activity")
			failed := newWindowPort(ports, requestID, activity.ModePopup, targetOrigin, encodedArgs)
			source := activity.Source{Mode: activity.ModePopup, Origin: targetOrigin}
			data, _ := json.Marshal("failed to open window")
			failed.resolve(activity.NewResult(activity.ResultFailed, data, source))
			return failed, nil
		}

		logger.Info("Popup blocked, falling back to redirect")
		return ports.redirect(requestID, targetOrigin, encodedArgs, activityURL), nil
	}

	ports.stateMutex.Lock()
	previous := ports.windowPorts[requestID]
	ports.windowPorts[requestID] = port
	ports.stateMutex.Unlock()
	if previous != nil {
		logger.Warn("Request id reused while its activity is still open")
	}

	port.attach(handle)
	logger.Debug("Opened activity window")
	return port, nil
}

// redirect navigates away; the result arrives with a later page load.
func (ports *Ports) redirect(requestID, targetOrigin string, args json.RawMessage, activityURL string) *WindowPort {
	port := newWindowPort(ports, requestID, activity.ModeRedirect, targetOrigin, args)
	ports.win.Navigate(activityURL)
	return port
}

// OnResult registers handler for requestID, replacing an earlier one. A result already
// buffered for requestID is handed to handler before OnResult returns.
func (ports *Ports) OnResult(requestID string, handler ResultHandler) {
	ports.dispatchMutex.Lock()
	ports.stateMutex.Lock()
	ports.handlers[requestID] = handler
	ports.stateMutex.Unlock()
	record, err := ports.buffer.Take(context.Background(), requestID)
	ports.dispatchMutex.Unlock()

	if err != nil {
		var noSuchResult *store.NoSuchResultError
		if !errors.As(err, &noSuchResult) {
			log.WithFields(log.Fields{
				"request": requestID,
				"error":   err,
			}).Error("Error reading buffered result")
		}
		return
	}

	log.WithField("request", requestID).Debug("Dispatching buffered result")
	handler(newBufferedPort(record))
}

// OnRedirectError registers the handler for failures of redirect returns. Errors which
// occurred before are delivered right away.
func (ports *Ports) OnRedirectError(handler func(err error)) {
	ports.stateMutex.Lock()
	ports.onRedirectError = handler
	pending := ports.redirectErrors
	ports.redirectErrors = nil
	ports.stateMutex.Unlock()

	for _, err := range pending {
		handler(err)
	}
}

func (ports *Ports) redirectError(err error) {
	log.WithError(err).Warn("Activity redirect failed")

	ports.stateMutex.Lock()
	handler := ports.onRedirectError
	if handler == nil {
		ports.redirectErrors = append(ports.redirectErrors, err)
	}
	ports.stateMutex.Unlock()

	if handler != nil {
		handler(err)
	}
}

// DiscoverRedirect looks for an activity response in the current location. A response
// is buffered or dispatched like any other result and removed from the location.
func (ports *Ports) DiscoverRedirect() {
	location := ports.win.Location()
	response, found, err := parseResponse(location)
	if !found {
		return
	}
	ports.win.ReplaceLocation(withoutParam(location, ResponseParam))

	if err != nil {
		ports.redirectError(NewMalformedResponseError(location, err))
		return
	}

	source := activity.Source{
		Mode:   activity.ModeRedirect,
		Origin: response.Origin,
	}
	result := activity.NewResult(response.Code, response.Data, source)
	log.WithFields(log.Fields{
		"request": response.RequestID,
		"result":  result,
	}).Debug("Discovered redirect result")

	port := newWindowPort(ports, response.RequestID, activity.ModeRedirect, response.Origin, nil)
	port.resolve(result)
}

// deliver hands a settled port to its handler, or buffers its result.
func (ports *Ports) deliver(requestID string, port Port, result *activity.Result) {
	ports.forget(requestID)

	ports.dispatchMutex.Lock()
	ports.stateMutex.Lock()
	handler, ok := ports.handlers[requestID]
	ports.stateMutex.Unlock()
	if !ok {
		err := ports.buffer.Put(context.Background(), store.NewRecord(requestID, result, ports.resultTTL))
		ports.dispatchMutex.Unlock()
		if err != nil {
			log.WithFields(log.Fields{
				"request": requestID,
				"error":   err,
			}).Error("Error buffering result")
		}
		return
	}
	ports.dispatchMutex.Unlock()

	handler(port)
}

func (ports *Ports) forget(requestID string) {
	ports.stateMutex.Lock()
	defer ports.stateMutex.Unlock()
	delete(ports.windowPorts, requestID)
}

// Close disconnects all open activity windows and closes the result buffer.
func (ports *Ports) Close() error {
	ports.stateMutex.Lock()
	windowPorts := make([]*WindowPort, 0, len(ports.windowPorts))
	for _, port := range ports.windowPorts {
		windowPorts = append(windowPorts, port)
	}
	ports.stateMutex.Unlock()

	for _, port := range windowPorts {
		port.Disconnect()
	}

	var err error
	if closeErr := ports.buffer.Close(); closeErr != nil {
		err = multierror.Append(err, closeErr)
	}
	return err
}

// bufferedPort is a result restored from the buffer.
type bufferedPort struct {
	record *store.Record
	result *activity.Result
}

func newBufferedPort(record *store.Record) *bufferedPort {
	return &bufferedPort{record: record, result: record.Result()}
}

func (port *bufferedPort) RequestID() string {
	return port.record.RequestID
}

func (port *bufferedPort) Mode() activity.Mode {
	return port.record.Mode
}

func (port *bufferedPort) TargetOrigin() string {
	return port.record.Origin
}

func (port *bufferedPort) AcceptResult(context.Context) (*activity.Result, error) {
	return port.result, nil
}
