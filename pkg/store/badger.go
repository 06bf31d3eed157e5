// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// BadgerStore persists records in a badger database, encoded with msgpack.
type BadgerStore struct {
	metadataStore *badgerhold.Store
}

func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badgerhold.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.Encoder = msgpack.Marshal
	opts.Decoder = msgpack.Unmarshal
	opts.Logger = log.StandardLogger()

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, err
	}

	badgerStore, err := badgerhold.Open(opts)
	if err != nil {
		return nil, err
	}

	log.WithField("path", path).Info("Opened result store")
	return &BadgerStore{metadataStore: badgerStore}, nil
}

func (store *BadgerStore) Put(_ context.Context, record *Record) error {
	err := store.metadataStore.Insert(record.RequestID, record)
	if errors.Is(err, badgerhold.ErrKeyExists) {
		return NewAlreadyBufferedError(record.RequestID)
	}
	return err
}

// Take reads and deletes the record in one transaction, so concurrent takers cannot both win.
func (store *BadgerStore) Take(_ context.Context, requestID string) (*Record, error) {
	var record Record
	err := store.metadataStore.Badger().Update(func(tx *badger.Txn) error {
		if err := store.metadataStore.TxGet(tx, requestID, &record); err != nil {
			return err
		}
		return store.metadataStore.TxDelete(tx, requestID, Record{})
	})

	if errors.Is(err, badgerhold.ErrNotFound) {
		return nil, NewNoSuchResultError(requestID)
	} else if err != nil {
		return nil, err
	}

	if record.Expired(time.Now()) {
		return nil, NewNoSuchResultError(requestID)
	}
	return &record, nil
}

func (store *BadgerStore) Sweep(_ context.Context, now time.Time) (int, error) {
	var expired []Record
	query := badgerhold.Where("ExpiresAt").Gt(int64(0)).And("ExpiresAt").Lt(now.UnixNano())

	var sweepErr error
	err := store.metadataStore.Badger().Update(func(tx *badger.Txn) error {
		if err := store.metadataStore.TxFind(tx, &expired, query); err != nil {
			return err
		}
		for _, record := range expired {
			if err := store.metadataStore.TxDelete(tx, record.RequestID, Record{}); err != nil {
				log.WithFields(log.Fields{
					"request": record.RequestID,
					"error":   err,
				}).Error("Error deleting expired result")
				sweepErr = multierror.Append(sweepErr, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sweepErr != nil {
		return 0, sweepErr
	}
	return len(expired), nil
}

func (store *BadgerStore) Close() error {
	return store.metadataStore.Close()
}
