// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package activity holds the value types exchanged when an activity completes.
package activity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ResultCode classifies the outcome of an activity.
type ResultCode string

const (
	// ResultOK means the activity completed and produced data.
	ResultOK ResultCode = "ok"

	// ResultCanceled means the user or the host aborted the activity.
	ResultCanceled ResultCode = "canceled"

	// ResultFailed means the activity failed; the data is the failure reason.
	ResultFailed ResultCode = "failed"
)

func (code ResultCode) String() string {
	return string(code)
}

func (code ResultCode) Valid() bool {
	return code == ResultOK || code == ResultCanceled || code == ResultFailed
}

// Mode is the way an activity was opened.
type Mode string

const (
	ModeIframe   Mode = "iframe"
	ModePopup    Mode = "popup"
	ModeRedirect Mode = "redirect"
)

func (mode Mode) String() string {
	return string(mode)
}

// Source describes where a result came from.
type Source struct {
	Mode   Mode
	Origin string
	// OriginVerified is set when Origin was checked against the message event rather than claimed by the host.
	OriginVerified bool
	// SecureChannel is set when the result arrived over the origin-pinned messenger.
	SecureChannel bool
}

// Result is the immutable outcome of an activity.
type Result struct {
	code   ResultCode
	data   json.RawMessage
	err    error
	source Source
}

// NewResult builds a result. Data is kept only for ResultOK; for ResultFailed it
// becomes the message of Err.
func NewResult(code ResultCode, data json.RawMessage, source Source) *Result {
	result := Result{
		code:   code,
		source: source,
	}

	switch code {
	case ResultOK:
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		result.data = append(json.RawMessage(nil), data...)
	case ResultFailed:
		result.err = NewFailedError(reasonOf(data))
	}

	return &result
}

// reasonOf stringifies a failure payload: JSON strings lose their quotes, other values keep their JSON text.
func reasonOf(data json.RawMessage) string {
	if len(data) == 0 || string(data) == "null" {
		return "failed"
	}
	var reason string
	if err := json.Unmarshal(data, &reason); err == nil {
		return reason
	}
	return strings.TrimSpace(string(data))
}

func (result *Result) Code() ResultCode {
	return result.code
}

// Data returns the raw JSON data of an ok result and nil otherwise.
func (result *Result) Data() json.RawMessage {
	return result.data
}

// DecodeData unmarshals the data of an ok result into v.
func (result *Result) DecodeData(v any) error {
	if result.data == nil {
		return NewNoDataError(result.code)
	}
	return json.Unmarshal(result.data, v)
}

func (result *Result) OK() bool {
	return result.code == ResultOK
}

// Err is non-nil only for failed results.
func (result *Result) Err() error {
	return result.err
}

func (result *Result) Mode() Mode {
	return result.source.Mode
}

func (result *Result) Origin() string {
	return result.source.Origin
}

func (result *Result) OriginVerified() bool {
	return result.source.OriginVerified
}

func (result *Result) SecureChannel() bool {
	return result.source.SecureChannel
}

func (result *Result) Source() Source {
	return result.source
}

func (result *Result) String() string {
	switch result.code {
	case ResultOK:
		return fmt.Sprintf("Result(ok, %s)", string(result.data))
	case ResultFailed:
		return fmt.Sprintf("Result(failed, %v)", result.err)
	default:
		return fmt.Sprintf("Result(%v)", result.code)
	}
}

// Payload is the wire shape of a result command.
type Payload struct {
	Code ResultCode      `json:"code"`
	Data json.RawMessage `json:"data"`
}

// NewPayload prepares the payload for a result; data is JSON encoded unless it already is raw JSON.
func NewPayload(code ResultCode, data any) (Payload, error) {
	payload := Payload{Code: code}
	switch d := data.(type) {
	case nil:
	case json.RawMessage:
		payload.Data = d
	default:
		encoded, err := json.Marshal(d)
		if err != nil {
			return Payload{}, err
		}
		payload.Data = encoded
	}
	return payload, nil
}

// ParsePayload decodes a result command payload into a Result.
func ParsePayload(raw json.RawMessage, source Source) (*Result, error) {
	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, err
	}
	if !payload.Code.Valid() {
		return nil, NewInvalidCodeError(payload.Code)
	}
	return NewResult(payload.Code, payload.Data, source), nil
}
