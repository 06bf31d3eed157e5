// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package memwindow

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/window"
)

// opaqueOrigin is the origin of documents whose URL has no usable origin.
const opaqueOrigin = "null"

type listener struct {
	id        window.ListenerID
	onMessage func(window.MessageEvent)
	onResize  func()
}

// Window is a browsing context of a Browser. It implements window.Window.
type Window struct {
	browser *Browser
	loop    *eventLoop

	stateMutex sync.RWMutex
	location   string
	origin     string
	parent     *Window
	opener     *Window
	closed     bool
	innerWidth int
	// generation is bumped by every navigation; listeners and timers of older documents die with it
	generation uint64
	listeners  []listener
	popups     map[string]*Window
}

func (w *Window) setLocation(rawURL string) {
	origin, err := window.OriginOf(rawURL)
	if err != nil {
		origin = opaqueOrigin
	}

	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()
	w.location = rawURL
	w.origin = origin
}

func (w *Window) Origin() string {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.origin
}

func (w *Window) Location() string {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.location
}

func (w *Window) AddMessageListener(fn func(window.MessageEvent)) window.ListenerID {
	return w.addListener(listener{onMessage: fn})
}

func (w *Window) AddResizeListener(fn func()) window.ListenerID {
	return w.addListener(listener{onResize: fn})
}

func (w *Window) addListener(l listener) window.ListenerID {
	l.id = w.browser.nextListenerID()

	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()
	w.listeners = append(w.listeners, l)
	return l.id
}

func (w *Window) RemoveListener(id window.ListenerID) {
	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()

	remaining := make([]listener, 0, len(w.listeners))
	for _, l := range w.listeners {
		if l.id != id {
			remaining = append(remaining, l)
		}
	}
	w.listeners = remaining
}

// ListenerCount returns the number of registered message and resize listeners.
func (w *Window) ListenerCount() int {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return len(w.listeners)
}

func (w *Window) Schedule(fn func(), delay time.Duration) {
	w.stateMutex.RLock()
	generation := w.generation
	w.stateMutex.RUnlock()

	task := func() {
		w.stateMutex.RLock()
		stale := w.closed || w.generation != generation
		w.stateMutex.RUnlock()
		if !stale {
			fn()
		}
	}

	if delay <= 0 {
		w.loop.enqueue(task)
		return
	}
	time.AfterFunc(delay, func() {
		w.loop.enqueue(task)
	})
}

func (w *Window) InnerWidth() int {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.innerWidth
}

// SetInnerWidth changes the viewport width and fires a resize event.
func (w *Window) SetInnerWidth(width int) {
	w.stateMutex.Lock()
	w.innerWidth = width
	w.stateMutex.Unlock()

	w.loop.enqueue(func() {
		for _, l := range w.snapshotListeners() {
			if l.onResize != nil {
				l.onResize()
			}
		}
	})
}

func (w *Window) snapshotListeners() []listener {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	if w.closed {
		return nil
	}
	return append([]listener(nil), w.listeners...)
}

func (w *Window) Parent() window.Target {
	if w.parent == nil {
		return nil
	}
	return w.parent.referenceFrom(w)
}

func (w *Window) Opener() window.Target {
	if w.opener == nil {
		return nil
	}
	return w.opener.referenceFrom(w)
}

// Reference returns other as a window handle usable from w's scripts.
func (w *Window) Reference(other *Window) window.Handle {
	return other.referenceFrom(w)
}

func (w *Window) referenceFrom(viewer *Window) *proxy {
	return &proxy{target: w, viewer: viewer}
}

func (w *Window) Open(rawURL, target, features string) window.Handle {
	switch target {
	case "_top", "_self":
		w.Navigate(rawURL)
		return w.referenceFrom(w)
	}

	if !w.browser.popupsAllowed() {
		log.WithFields(log.Fields{
			"url":    rawURL,
			"target": target,
		}).Debug("Popup blocked")
		return nil
	}

	if target != "" && target != "_blank" {
		w.stateMutex.RLock()
		existing, ok := w.popups[target]
		w.stateMutex.RUnlock()
		if ok && !existing.Closed() {
			existing.Navigate(rawURL)
			return existing.referenceFrom(w)
		}
	}

	popup := w.browser.newWindow(rawURL, nil, w)
	if target != "" && target != "_blank" {
		w.stateMutex.Lock()
		w.popups[target] = popup
		w.stateMutex.Unlock()
	}

	log.WithFields(log.Fields{
		"url":      rawURL,
		"target":   target,
		"features": features,
	}).Debug("Opened popup")
	return popup.referenceFrom(w)
}

func (w *Window) Navigate(rawURL string) {
	w.stateMutex.Lock()
	w.generation++
	w.listeners = make([]listener, 0)
	w.stateMutex.Unlock()

	w.setLocation(rawURL)
	log.WithField("url", rawURL).Debug("Window navigated")

	w.browser.load(w)
}

func (w *Window) ReplaceLocation(rawURL string) {
	w.setLocation(rawURL)
}

// Close closes the window; it stops receiving events.
func (w *Window) Close() {
	w.stateMutex.Lock()
	defer w.stateMutex.Unlock()
	w.closed = true
	w.listeners = nil
}

func (w *Window) Closed() bool {
	w.stateMutex.RLock()
	defer w.stateMutex.RUnlock()
	return w.closed
}

// Sync blocks until all tasks queued on the window's event loop so far have run.
func (w *Window) Sync() {
	w.loop.sync()
}

// deliver queues a message event; the target origin is checked against the document
// loaded at dispatch time.
func (w *Window) deliver(event window.MessageEvent, targetOrigin string) {
	w.loop.enqueue(func() {
		if targetOrigin != window.Wildcard && targetOrigin != w.Origin() {
			log.WithFields(log.Fields{
				"targetOrigin": targetOrigin,
				"origin":       w.Origin(),
			}).Trace("Dropping message for mismatching target origin")
			return
		}

		for _, l := range w.snapshotListeners() {
			if l.onMessage != nil {
				l.onMessage(event)
			}
		}
	})
}

// proxy is a window reference as seen by another window's scripts.
type proxy struct {
	target *Window
	viewer *Window
}

func (p *proxy) PostMessage(data []byte, targetOrigin string) error {
	if p.target.Closed() {
		return nil
	}

	event := window.MessageEvent{
		Origin: p.viewer.Origin(),
		Source: p.viewer.referenceFrom(p.target),
		Data:   append([]byte(nil), data...),
	}
	p.target.deliver(event, targetOrigin)
	return nil
}

func (p *proxy) Closed() bool {
	return p.target.Closed()
}

func (p *proxy) Close() {
	p.target.Close()
}
