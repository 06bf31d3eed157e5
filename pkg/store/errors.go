// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import "fmt"

type AlreadyBufferedError string

func NewAlreadyBufferedError(requestID string) *AlreadyBufferedError {
	err := AlreadyBufferedError(requestID)
	return &err
}

func (err *AlreadyBufferedError) Error() string {
	return fmt.Sprintf("result for request %v is already buffered", string(*err))
}

type NoSuchResultError string

func NewNoSuchResultError(requestID string) *NoSuchResultError {
	err := NoSuchResultError(requestID)
	return &err
}

func (err *NoSuchResultError) Error() string {
	return fmt.Sprintf("no buffered result for request %v", string(*err))
}
