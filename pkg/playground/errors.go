// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

import "fmt"

type AlreadyExpectedError string

func NewAlreadyExpectedError(requestID string) *AlreadyExpectedError {
	err := AlreadyExpectedError(requestID)
	return &err
}

func (err *AlreadyExpectedError) Error() string {
	return fmt.Sprintf("Request %v is already in use", string(*err))
}

type NoSuchRequestError string

func NewNoSuchRequestError(requestID string) *NoSuchRequestError {
	err := NoSuchRequestError(requestID)
	return &err
}

func (err *NoSuchRequestError) Error() string {
	return fmt.Sprintf("No activity with request %v", string(*err))
}

type ResultPendingError string

func NewResultPendingError(requestID string) *ResultPendingError {
	err := ResultPendingError(requestID)
	return &err
}

func (err *ResultPendingError) Error() string {
	return fmt.Sprintf("Activity %v has not finished yet", string(*err))
}

type NotBridgedError string

func NewNotBridgedError(origin string) *NotBridgedError {
	err := NotBridgedError(origin)
	return &err
}

func (err *NotBridgedError) Error() string {
	return fmt.Sprintf("Origin %v is not configured for remote pages", string(*err))
}

type ConflictingOriginError string

func NewConflictingOriginError(origin string) *ConflictingOriginError {
	err := ConflictingOriginError(origin)
	return &err
}

func (err *ConflictingOriginError) Error() string {
	return fmt.Sprintf("Origin %v is served more than once", string(*err))
}

type AlreadyDeliveredError string

func NewAlreadyDeliveredError(requestID string) *AlreadyDeliveredError {
	err := AlreadyDeliveredError(requestID)
	return &err
}

func (err *AlreadyDeliveredError) Error() string {
	return fmt.Sprintf("Result for %v already in mailbox", string(*err))
}
