// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a ResultStore living in process memory.
type MemoryStore struct {
	stateMutex sync.Mutex
	records    map[string]Record
}

func NewMemoryStore() *MemoryStore {
	store := MemoryStore{
		records: make(map[string]Record),
	}
	return &store
}

func (store *MemoryStore) Put(_ context.Context, record *Record) error {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	if _, ok := store.records[record.RequestID]; ok {
		return NewAlreadyBufferedError(record.RequestID)
	}
	store.records[record.RequestID] = *record
	return nil
}

func (store *MemoryStore) Take(_ context.Context, requestID string) (*Record, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	record, ok := store.records[requestID]
	if !ok {
		return nil, NewNoSuchResultError(requestID)
	}
	delete(store.records, requestID)

	if record.Expired(time.Now()) {
		return nil, NewNoSuchResultError(requestID)
	}
	return &record, nil
}

func (store *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()

	swept := 0
	for requestID, record := range store.records {
		if record.Expired(now) {
			delete(store.records, requestID)
			swept++
		}
	}
	return swept, nil
}

// Len returns the number of buffered records, including expired ones not yet swept.
func (store *MemoryStore) Len() int {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	return len(store.records)
}

func (store *MemoryStore) Close() error {
	return nil
}
