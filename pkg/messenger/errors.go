// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import "fmt"

// NotConnectedError is returned when an operation needs a connection (or a known
// target origin) which has not been established yet.
type NotConnectedError string

func NewNotConnectedError(operation string) *NotConnectedError {
	err := NotConnectedError(operation)
	return &err
}

func (err *NotConnectedError) Error() string {
	if *err == "" {
		return "not connected"
	}
	return fmt.Sprintf("not connected: %v", string(*err))
}

// AlreadyConnectedError is returned by a second Connect without Disconnect in between.
type AlreadyConnectedError struct{}

func NewAlreadyConnectedError() *AlreadyConnectedError {
	return &AlreadyConnectedError{}
}

func (err *AlreadyConnectedError) Error() string {
	return "already connected"
}

// TargetUnavailableError is returned when the target window cannot be resolved,
// e.g. an iframe without a content window.
type TargetUnavailableError struct{}

func NewTargetUnavailableError() *TargetUnavailableError {
	return &TargetUnavailableError{}
}

func (err *TargetUnavailableError) Error() string {
	return "target window unavailable"
}
