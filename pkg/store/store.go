// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package store buffers activity results which arrived before anyone asked for them.
//
// Every buffered result is consumed at most once: Take removes the record it returns.
// Records may carry an expiry after which they are no longer handed out and are
// removed by Sweep.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/dtn7/web-activities/pkg/activity"
)

// Record is a buffered result, keyed by its request id.
type Record struct {
	RequestID      string `badgerhold:"key"`
	Mode           activity.Mode
	Code           activity.ResultCode
	Data           json.RawMessage
	Origin         string
	OriginVerified bool
	SecureChannel  bool
	// Created and ExpiresAt are unix nanoseconds. A zero ExpiresAt never expires.
	Created   int64
	ExpiresAt int64
}

// NewRecord captures result for requestID. A non-positive ttl keeps the record until taken.
func NewRecord(requestID string, result *activity.Result, ttl time.Duration) *Record {
	now := time.Now()
	record := Record{
		RequestID:      requestID,
		Mode:           result.Mode(),
		Code:           result.Code(),
		Data:           result.Data(),
		Origin:         result.Origin(),
		OriginVerified: result.OriginVerified(),
		SecureChannel:  result.SecureChannel(),
		Created:        now.UnixNano(),
	}
	if ttl > 0 {
		record.ExpiresAt = now.Add(ttl).UnixNano()
	}

	// Failed results keep their reason as data so Result can rebuild the error.
	if err := result.Err(); err != nil {
		if reason, marshalErr := json.Marshal(err.Error()); marshalErr == nil {
			record.Data = reason
		}
	}
	return &record
}

// Result rebuilds the buffered activity result.
func (record *Record) Result() *activity.Result {
	source := activity.Source{
		Mode:           record.Mode,
		Origin:         record.Origin,
		OriginVerified: record.OriginVerified,
		SecureChannel:  record.SecureChannel,
	}
	return activity.NewResult(record.Code, record.Data, source)
}

func (record *Record) Expired(now time.Time) bool {
	return record.ExpiresAt > 0 && record.ExpiresAt < now.UnixNano()
}

// TTL returns the remaining lifetime, zero for records without expiry.
func (record *Record) TTL(now time.Time) time.Duration {
	if record.ExpiresAt == 0 {
		return 0
	}
	return time.Duration(record.ExpiresAt - now.UnixNano())
}

// ResultStore is a buffer of records with at-most-once consumption.
type ResultStore interface {
	// Put buffers record; an *AlreadyBufferedError is returned if its request id is taken.
	Put(ctx context.Context, record *Record) error

	// Take removes and returns the record for requestID, or a *NoSuchResultError.
	Take(ctx context.Context, requestID string) (*Record, error)

	// Sweep removes all records expired at now and returns their number.
	Sweep(ctx context.Context, now time.Time) (int, error)

	Close() error
}
