// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package playground

import (
	"encoding/json"

	"github.com/dtn7/web-activities/pkg/activity"
)

// RestOpenRequest starts an activity in a popup or by redirect, POST /api/open.
type RestOpenRequest struct {
	RequestID               string          `json:"request_id,omitempty"`
	URL                     string          `json:"url"`
	Target                  string          `json:"target,omitempty"`
	Args                    json.RawMessage `json:"args,omitempty"`
	ReturnURL               string          `json:"return_url,omitempty"`
	DisableRedirectFallback bool            `json:"disable_redirect_fallback,omitempty"`
	SkipRequestInURL        bool            `json:"skip_request_in_url,omitempty"`
}

// RestIframeRequest starts an activity in an iframe, POST /api/iframe.
type RestIframeRequest struct {
	RequestID string          `json:"request_id,omitempty"`
	URL       string          `json:"url"`
	Origin    string          `json:"origin,omitempty"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// RestStartResponse answers both start requests.
type RestStartResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// RestResultResponse is the outcome of an activity, GET /api/result/{id}.
type RestResultResponse struct {
	Error          string              `json:"error"`
	RequestID      string              `json:"request_id"`
	Pending        bool                `json:"pending,omitempty"`
	Code           activity.ResultCode `json:"code,omitempty"`
	Data           json.RawMessage     `json:"data,omitempty"`
	Reason         string              `json:"reason,omitempty"`
	Mode           activity.Mode       `json:"mode,omitempty"`
	Origin         string              `json:"origin,omitempty"`
	OriginVerified bool                `json:"origin_verified,omitempty"`
	SecureChannel  bool                `json:"secure_channel,omitempty"`
}

// Request states to list through /api/pending.
const (
	StatePending = "pending"
	StateUnread  = "unread"
	StateAll     = "all"
)

// RestPendingResponse lists request ids, GET /api/pending and DELETE /api/requests.
type RestPendingResponse struct {
	Error    string   `json:"error"`
	Requests []string `json:"requests"`
}

// RestHealthResponse reports whether the daemon and its result buffer work, GET /healthz.
type RestHealthResponse struct {
	Error  string `json:"error"`
	Status string `json:"status"`
}

func newRestResultResponse(requestID string, result *activity.Result) RestResultResponse {
	response := RestResultResponse{
		RequestID:      requestID,
		Code:           result.Code(),
		Data:           result.Data(),
		Mode:           result.Mode(),
		Origin:         result.Origin(),
		OriginVerified: result.OriginVerified(),
		SecureChannel:  result.SecureChannel(),
	}
	if err := result.Err(); err != nil {
		response.Reason = err.Error()
	}
	return response
}
