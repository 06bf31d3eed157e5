// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

import (
	"sort"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/web-activities/pkg/activity"
)

// Mailbox collects the outcomes of the activities started through the playground.
// An entry is pending between Expect and Deliver.
type Mailbox struct {
	rwMutex sync.RWMutex

	entries map[string]*entry
}

type entry struct {
	delivered bool
	retrieved bool
	result    *activity.Result
	err       error
}

func NewMailbox() *Mailbox {
	mailbox := Mailbox{
		entries: make(map[string]*entry),
	}
	return &mailbox
}

// Expect announces an activity for requestID.
// Returns AlreadyExpectedError if the request id is already in use.
func (mailbox *Mailbox) Expect(requestID string) error {
	mailbox.rwMutex.Lock()
	defer mailbox.rwMutex.Unlock()

	if _, ok := mailbox.entries[requestID]; ok {
		return NewAlreadyExpectedError(requestID)
	}
	mailbox.entries[requestID] = &entry{}
	return nil
}

// Deliver stores the outcome for requestID. Outcomes for unexpected requests are
// accepted as well since buffered results may outlive the playground which started them.
// Returns AlreadyDeliveredError if an outcome is already stored.
func (mailbox *Mailbox) Deliver(requestID string, result *activity.Result, err error) error {
	log.WithFields(log.Fields{
		"request": requestID,
		"result":  result,
		"error":   err,
	}).Debug("Delivering activity outcome to mailbox")

	mailbox.rwMutex.Lock()
	defer mailbox.rwMutex.Unlock()

	e, ok := mailbox.entries[requestID]
	if !ok {
		e = &entry{}
		mailbox.entries[requestID] = e
	} else if e.delivered {
		return NewAlreadyDeliveredError(requestID)
	}

	e.delivered = true
	e.result = result
	e.err = err
	return nil
}

// Get returns the outcome for requestID. If remove is set, the entry is deleted.
// Returns NoSuchRequestError, ResultPendingError or the error the activity ended with.
func (mailbox *Mailbox) Get(requestID string, remove bool) (*activity.Result, error) {
	mailbox.rwMutex.Lock()
	defer mailbox.rwMutex.Unlock()

	e, ok := mailbox.entries[requestID]
	if !ok {
		return nil, NewNoSuchRequestError(requestID)
	}
	if !e.delivered {
		return nil, NewResultPendingError(requestID)
	}

	if remove {
		delete(mailbox.entries, requestID)
	} else {
		e.retrieved = true
	}
	return e.result, e.err
}

// List returns the request ids of all entries.
func (mailbox *Mailbox) List() []string {
	return mailbox.filter(func(*entry) bool { return true })
}

// ListPending returns the request ids still waiting for an outcome.
func (mailbox *Mailbox) ListPending() []string {
	return mailbox.filter(func(e *entry) bool { return !e.delivered })
}

// ListNew returns the request ids whose outcome has not been retrieved yet.
func (mailbox *Mailbox) ListNew() []string {
	return mailbox.filter(func(e *entry) bool { return e.delivered && !e.retrieved })
}

func (mailbox *Mailbox) filter(keep func(*entry) bool) []string {
	mailbox.rwMutex.RLock()
	defer mailbox.rwMutex.RUnlock()

	ids := make([]string, 0, len(mailbox.entries))
	for id, e := range mailbox.entries {
		if keep(e) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func (mailbox *Mailbox) Delete(requestID string) {
	mailbox.rwMutex.Lock()
	defer mailbox.rwMutex.Unlock()

	delete(mailbox.entries, requestID)
}

func (mailbox *Mailbox) Clear() {
	mailbox.rwMutex.Lock()
	defer mailbox.rwMutex.Unlock()

	clear(mailbox.entries)
}
