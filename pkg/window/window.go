// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package window defines the browsing-context interfaces the activity protocol runs on.
//
// A Target is anything a message can be posted to: a parent, an opener, an iframe's
// content window or a popup. A Handle is a Target this window opened itself and may
// therefore close and inspect. A Window is the browsing context the calling code
// lives in; it receives message and resize events and runs scheduled functions.
//
// All listener callbacks and scheduled functions of one Window run sequentially on
// that window's event loop, in the order the events were delivered. Implementations
// exist for an in-process browser (memwindow) and for remote pages attached over a
// websocket (wsbridge).
package window

import "time"

// Wildcard is the target origin which matches any receiving window.
const Wildcard = "*"

// ListenerID identifies a registered event listener.
type ListenerID uint64

// MessageEvent is an inbound postMessage event.
type MessageEvent struct {
	// Origin of the window which posted the message.
	Origin string
	// Source is the posting window, as seen from the receiver.
	Source Target
	// Data is the structured-clone of the posted message.
	Data []byte
}

// Target is a window reference which messages can be posted to.
type Target interface {
	// PostMessage delivers data to the target if its origin matches targetOrigin.
	// A mismatching origin drops the message silently, as browsers do.
	PostMessage(data []byte, targetOrigin string) error
}

// Handle is a Target for a window opened by this window.
type Handle interface {
	Target

	// Closed reports whether the opened window has been closed.
	Closed() bool

	// Close closes the opened window.
	Close()
}

// Window is the browsing context the calling code runs in.
type Window interface {
	// Origin returns this window's origin, e.g. "https://example.com".
	Origin() string

	// Location returns the full URL currently loaded in this window.
	Location() string

	AddMessageListener(fn func(MessageEvent)) ListenerID
	AddResizeListener(fn func()) ListenerID
	RemoveListener(id ListenerID)

	// Schedule runs fn on this window's event loop after delay.
	Schedule(fn func(), delay time.Duration)

	// InnerWidth returns the viewport width.
	InnerWidth() int

	// Parent returns the embedding window or nil for a top-level window.
	Parent() Target

	// Opener returns the window which opened this one or nil.
	Opener() Target

	// Open opens url in a new browsing context named target.
	// A nil Handle means the popup was blocked.
	Open(url, target, features string) Handle

	// Navigate loads url into this window, replacing the current document.
	Navigate(url string)

	// ReplaceLocation rewrites the current URL without loading a new document.
	ReplaceLocation(url string)
}

// Frame is an iframe element owned by a Window.
type Frame interface {
	// Attached reports whether the element is part of its owner's document.
	Attached() bool

	// SetSrc starts navigating the frame to url.
	SetSrc(url string)

	// ContentWindow returns the frame's window or nil while no document is loaded.
	ContentWindow() Target

	// OffsetHeight returns the element's rendered height.
	OffsetHeight() int
}

// Element is a measurable DOM element.
type Element interface {
	ScrollHeight() int
}
