// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package ports

import (
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/dtn7/web-activities/pkg/activity"
)

const (
	// RequestParam is the fragment parameter carrying a Request to the activity.
	RequestParam = "__WA__"

	// ResponseParam is the fragment parameter carrying a Response back to the return URL.
	ResponseParam = "__WA_RES__"
)

// Request describes an activity opened in a popup or by redirect.
type Request struct {
	RequestID string          `json:"requestId"`
	ReturnURL string          `json:"returnUrl"`
	Args      json.RawMessage `json:"args"`
	Origin    string          `json:"origin"`
}

// Response is the result a redirect host sends back with the return URL.
type Response struct {
	RequestID string              `json:"requestId"`
	Origin    string              `json:"origin"`
	Code      activity.ResultCode `json:"code"`
	Data      json.RawMessage     `json:"data"`
}

// fragmentPairs splits a fragment into its '&' separated pairs, skipping empty ones.
func fragmentPairs(fragment string) []string {
	var pairs []string
	for _, pair := range strings.Split(fragment, "&") {
		if pair != "" {
			pairs = append(pairs, pair)
		}
	}
	return pairs
}

// pairKey returns the unescaped key of a "key=value" pair.
func pairKey(pair string) string {
	key, _, _ := strings.Cut(pair, "=")
	if unescaped, err := url.QueryUnescape(key); err == nil {
		return unescaped
	}
	return key
}

// withParam sets a fragment parameter of rawURL. The rest of the fragment is kept as is.
func withParam(rawURL, param string, value any) (string, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	base, fragment, _ := strings.Cut(withoutParam(rawURL, param), "#")
	pair := url.QueryEscape(param) + "=" + url.QueryEscape(string(encoded))
	if fragment == "" {
		return base + "#" + pair, nil
	}
	return base + "#" + fragment + "&" + pair, nil
}

// readParam decodes a fragment parameter of location into v. It reports false if the
// parameter is absent.
func readParam(location, param string, v any) (bool, error) {
	_, fragment, found := strings.Cut(location, "#")
	if !found {
		return false, nil
	}
	for _, pair := range fragmentPairs(fragment) {
		if pairKey(pair) != param {
			continue
		}
		_, rawValue, _ := strings.Cut(pair, "=")
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return true, err
		}
		return true, json.Unmarshal([]byte(value), v)
	}
	return false, nil
}

// withoutParam removes a fragment parameter, dropping the fragment once it is empty.
func withoutParam(location, param string) string {
	base, fragment, found := strings.Cut(location, "#")
	if !found {
		return location
	}
	var kept []string
	removed := false
	for _, pair := range strings.Split(fragment, "&") {
		if pair != "" && pairKey(pair) == param {
			removed = true
			continue
		}
		kept = append(kept, pair)
	}
	if !removed {
		return location
	}
	rest := strings.Join(kept, "&")
	if rest == "" {
		return base
	}
	return base + "#" + rest
}

// AppendRequest adds request to the fragment of the activity URL.
func AppendRequest(rawURL string, request *Request) (string, error) {
	return withParam(rawURL, RequestParam, request)
}

// ParseRequest reads the request an activity was opened with from its location.
func ParseRequest(location string) (*Request, error) {
	var request Request
	found, err := readParam(location, RequestParam, &request)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, NewNoRequestError(location)
	}
	return &request, nil
}

// ReturnURL builds the location a redirect host navigates back to in order to report its result.
func ReturnURL(request *Request, origin string, code activity.ResultCode, data any) (string, error) {
	payload, err := activity.NewPayload(code, data)
	if err != nil {
		return "", err
	}
	response := Response{
		RequestID: request.RequestID,
		Origin:    origin,
		Code:      payload.Code,
		Data:      payload.Data,
	}
	return withParam(request.ReturnURL, ResponseParam, response)
}

func parseResponse(location string) (*Response, bool, error) {
	var response Response
	found, err := readParam(location, ResponseParam, &response)
	if !found || err != nil {
		return nil, found, err
	}
	if response.RequestID == "" {
		return nil, true, errors.New("missing request id")
	}
	if !response.Code.Valid() {
		return nil, true, activity.NewInvalidCodeError(response.Code)
	}
	return &response, true, nil
}
