// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ports

import "fmt"

// InvalidTargetError is returned by Open for window targets an activity cannot be opened in.
type InvalidTargetError string

func NewInvalidTargetError(target string) *InvalidTargetError {
	err := InvalidTargetError(target)
	return &err
}

func (err *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: use _top for a redirect or a window name for a popup", string(*err))
}

// MalformedResponseError reports an activity response fragment which could not be read.
type MalformedResponseError struct {
	location string
	cause    error
}

func NewMalformedResponseError(location string, cause error) *MalformedResponseError {
	return &MalformedResponseError{location: location, cause: cause}
}

func (err *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed activity response in %v: %v", err.location, err.cause)
}

func (err *MalformedResponseError) Unwrap() error {
	return err.cause
}

// NoRequestError is returned by ParseRequest for locations without an activity request.
type NoRequestError string

func NewNoRequestError(location string) *NoRequestError {
	err := NoRequestError(location)
	return &err
}

func (err *NoRequestError) Error() string {
	return fmt.Sprintf("no activity request in %v", string(*err))
}
