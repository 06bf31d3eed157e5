// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsbridge

import "fmt"

type UnknownTargetError string

func NewUnknownTargetError(target string) *UnknownTargetError {
	err := UnknownTargetError(target)
	return &err
}

func (err *UnknownTargetError) Error() string {
	return fmt.Sprintf("bridged window has no %q window to post to", string(*err))
}

type MissingTargetOriginError struct{}

func NewMissingTargetOriginError() *MissingTargetOriginError {
	return &MissingTargetOriginError{}
}

func (err *MissingTargetOriginError) Error() string {
	return "frame lacks a target origin"
}
