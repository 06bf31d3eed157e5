// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package iframe

import "fmt"

// NotInDocumentError is returned by Port.Connect for an iframe which is not attached.
type NotInDocumentError string

func NewNotInDocumentError(url string) *NotInDocumentError {
	err := NotInDocumentError(url)
	return &err
}

func (err *NotInDocumentError) Error() string {
	return fmt.Sprintf("iframe for %v must be in DOM", string(*err))
}

// ResultAlreadySentError is returned when a host tries to report a second outcome.
type ResultAlreadySentError struct{}

func NewResultAlreadySentError() *ResultAlreadySentError {
	return &ResultAlreadySentError{}
}

func (err *ResultAlreadySentError) Error() string {
	return "result already sent"
}
