// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package memwindow

import (
	"sync"

	log "github.com/sirupsen/logrus"
)

// eventLoop runs queued tasks one after another on a single goroutine.
// Enqueueing never blocks, so tasks may freely post to other loops (or their own).
type eventLoop struct {
	mutex sync.Mutex
	queue []func()

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once
}

func newEventLoop() *eventLoop {
	loop := eventLoop{
		queue: make([]func(), 0, 8),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	go loop.run()
	return &loop
}

func (loop *eventLoop) enqueue(task func()) {
	loop.mutex.Lock()
	loop.queue = append(loop.queue, task)
	loop.mutex.Unlock()

	select {
	case loop.wake <- struct{}{}:
	default:
	}
}

func (loop *eventLoop) run() {
	for {
		select {
		case <-loop.stop:
			return
		case <-loop.wake:
		}

		for {
			loop.mutex.Lock()
			if len(loop.queue) == 0 {
				loop.mutex.Unlock()
				break
			}
			task := loop.queue[0]
			loop.queue[0] = nil
			loop.queue = loop.queue[1:]
			loop.mutex.Unlock()

			loop.execute(task)

			select {
			case <-loop.stop:
				return
			default:
			}
		}
	}
}

// execute runs a single task; a panicking task is reported and the loop carries on,
// like an uncaught exception in an event handler.
func (loop *eventLoop) execute(task func()) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", r).Error("Uncaught panic in event loop task")
		}
	}()
	task()
}

// sync blocks until every task queued before the call has run.
func (loop *eventLoop) sync() {
	done := make(chan struct{})
	loop.enqueue(func() { close(done) })
	select {
	case <-done:
	case <-loop.stop:
	}
}

func (loop *eventLoop) close() {
	loop.stopOnce.Do(func() {
		close(loop.stop)
	})
}
