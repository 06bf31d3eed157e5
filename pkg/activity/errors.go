// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package activity

import "fmt"

// FailedError is the error of a failed result.
type FailedError string

func NewFailedError(reason string) *FailedError {
	err := FailedError(reason)
	return &err
}

func (err *FailedError) Error() string {
	return string(*err)
}

type InvalidCodeError ResultCode

func NewInvalidCodeError(code ResultCode) *InvalidCodeError {
	err := InvalidCodeError(code)
	return &err
}

func (err *InvalidCodeError) Error() string {
	return fmt.Sprintf("%q is not a valid result code", string(*err))
}

type NoDataError ResultCode

func NewNoDataError(code ResultCode) *NoDataError {
	err := NoDataError(code)
	return &err
}

func (err *NoDataError) Error() string {
	return fmt.Sprintf("%v result carries no data", string(*err))
}
