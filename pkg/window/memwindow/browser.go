// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package memwindow is an in-process browser for driving the activity protocol without a real one.
//
// Each Window owns an event loop goroutine. Message and resize listeners as well as
// scheduled functions run on that loop, so the ordering guarantees of a browser's
// single-threaded event dispatch hold per window. Page scripts registered with
// Browser.Serve run whenever a window loads a document of the served origin.
package memwindow

import (
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/window"
)

// PageFunc is the script of a page. It runs on its own goroutine and may block.
type PageFunc func(w *Window)

// DefaultInnerWidth is the viewport width of newly created windows.
const DefaultInnerWidth = 1024

type Browser struct {
	stateMutex    sync.RWMutex
	pages         map[string]PageFunc
	popupsBlocked bool
	windows       []*Window

	listenerCounter atomic.Uint64
}

func NewBrowser() *Browser {
	browser := Browser{
		pages:   make(map[string]PageFunc),
		windows: make([]*Window, 0),
	}
	return &browser
}

// Serve registers the page script for all documents of origin.
func (browser *Browser) Serve(origin string, page PageFunc) {
	browser.stateMutex.Lock()
	defer browser.stateMutex.Unlock()
	browser.pages[origin] = page
}

// BlockPopups makes every subsequent Window.Open return a nil Handle.
func (browser *Browser) BlockPopups(blocked bool) {
	browser.stateMutex.Lock()
	defer browser.stateMutex.Unlock()
	browser.popupsBlocked = blocked
}

func (browser *Browser) popupsAllowed() bool {
	browser.stateMutex.RLock()
	defer browser.stateMutex.RUnlock()
	return !browser.popupsBlocked
}

// NewWindow opens a top-level window (a new tab) at rawURL.
func (browser *Browser) NewWindow(rawURL string) *Window {
	return browser.newWindow(rawURL, nil, nil)
}

// Close stops the event loops of all windows.
func (browser *Browser) Close() {
	browser.stateMutex.Lock()
	windows := browser.windows
	browser.windows = nil
	browser.stateMutex.Unlock()

	for _, w := range windows {
		w.loop.close()
	}
}

func (browser *Browser) newWindow(rawURL string, parent, opener *Window) *Window {
	w := browser.createWindow(rawURL, parent, opener)
	browser.load(w)
	return w
}

// createWindow registers a browsing context at rawURL without running its page script.
func (browser *Browser) createWindow(rawURL string, parent, opener *Window) *Window {
	w := &Window{
		browser:    browser,
		loop:       newEventLoop(),
		parent:     parent,
		opener:     opener,
		innerWidth: DefaultInnerWidth,
		listeners:  make([]listener, 0),
		popups:     make(map[string]*Window),
	}
	w.setLocation(rawURL)

	browser.stateMutex.Lock()
	browser.windows = append(browser.windows, w)
	browser.stateMutex.Unlock()

	return w
}

func (browser *Browser) nextListenerID() window.ListenerID {
	return window.ListenerID(browser.listenerCounter.Add(1))
}

// load runs the page script registered for the window's current origin.
func (browser *Browser) load(w *Window) {
	origin := w.Origin()

	browser.stateMutex.RLock()
	page, ok := browser.pages[origin]
	browser.stateMutex.RUnlock()

	if !ok {
		log.WithFields(log.Fields{
			"location": w.Location(),
			"origin":   origin,
		}).Trace("No page served for origin")
		return
	}

	go page(w)
}
