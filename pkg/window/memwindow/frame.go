// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package memwindow

import (
	"sync"

	"github.com/dtn7/web-activities/pkg/window"
)

// Frame is an iframe element. It implements window.Frame.
type Frame struct {
	owner *Window

	stateMutex   sync.RWMutex
	attached     bool
	src          string
	content      *Window
	offsetHeight int
}

// CreateFrame creates a detached iframe element in w's document.
func (w *Window) CreateFrame() *Frame {
	return &Frame{owner: w}
}

// Attach inserts the element into the owner's document.
func (frame *Frame) Attach() {
	frame.stateMutex.Lock()
	defer frame.stateMutex.Unlock()
	frame.attached = true
}

// Detach removes the element from the document, discarding its browsing context.
func (frame *Frame) Detach() {
	frame.stateMutex.Lock()
	content := frame.content
	frame.attached = false
	frame.content = nil
	frame.stateMutex.Unlock()

	if content != nil {
		content.Close()
	}
}

func (frame *Frame) Attached() bool {
	frame.stateMutex.RLock()
	defer frame.stateMutex.RUnlock()
	return frame.attached
}

// SetSrc loads rawURL into the frame. Detached frames only remember the value.
func (frame *Frame) SetSrc(rawURL string) {
	frame.stateMutex.Lock()
	frame.src = rawURL
	if !frame.attached {
		frame.stateMutex.Unlock()
		return
	}
	content := frame.content
	frame.stateMutex.Unlock()

	if content != nil {
		content.Navigate(rawURL)
		return
	}

	// The page script may reach for the frame's content window right away.
	content = frame.owner.browser.createWindow(rawURL, frame.owner, nil)
	frame.stateMutex.Lock()
	frame.content = content
	frame.stateMutex.Unlock()
	frame.owner.browser.load(content)
}

func (frame *Frame) Src() string {
	frame.stateMutex.RLock()
	defer frame.stateMutex.RUnlock()
	return frame.src
}

func (frame *Frame) ContentWindow() window.Target {
	frame.stateMutex.RLock()
	defer frame.stateMutex.RUnlock()
	if frame.content == nil {
		return nil
	}
	return frame.content.referenceFrom(frame.owner)
}

// Window returns the frame's browsing context, nil before the first SetSrc.
func (frame *Frame) Window() *Window {
	frame.stateMutex.RLock()
	defer frame.stateMutex.RUnlock()
	return frame.content
}

func (frame *Frame) OffsetHeight() int {
	frame.stateMutex.RLock()
	defer frame.stateMutex.RUnlock()
	return frame.offsetHeight
}

func (frame *Frame) SetOffsetHeight(height int) {
	frame.stateMutex.Lock()
	defer frame.stateMutex.Unlock()
	frame.offsetHeight = height
}

// Element is a size container with a settable scroll height. It implements window.Element.
type Element struct {
	stateMutex   sync.RWMutex
	scrollHeight int
}

func NewElement(scrollHeight int) *Element {
	return &Element{scrollHeight: scrollHeight}
}

func (element *Element) ScrollHeight() int {
	element.stateMutex.RLock()
	defer element.stateMutex.RUnlock()
	return element.scrollHeight
}

func (element *Element) SetScrollHeight(height int) {
	element.stateMutex.Lock()
	defer element.stateMutex.Unlock()
	element.scrollHeight = height
}

// WindowOf returns the Window behind a reference produced by this package, or nil.
func WindowOf(target window.Target) *Window {
	if p, ok := target.(*proxy); ok {
		return p.target
	}
	return nil
}
