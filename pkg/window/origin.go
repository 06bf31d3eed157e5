// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package window

import (
	"fmt"
	"net/url"
	"strings"
)

type InvalidURLError struct {
	url   string
	cause error
}

func NewInvalidURLError(rawURL string, cause error) *InvalidURLError {
	return &InvalidURLError{url: rawURL, cause: cause}
}

func (err *InvalidURLError) Error() string {
	if err.cause != nil {
		return fmt.Sprintf("invalid url %q: %v", err.url, err.cause)
	}
	return fmt.Sprintf("invalid url %q", err.url)
}

func (err *InvalidURLError) Unwrap() error { return err.cause }

// OriginOf returns the serialised origin (scheme://host[:port]) of an absolute URL.
// Default ports are dropped, matching the browser's serialisation.
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", NewInvalidURLError(rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", NewInvalidURLError(rawURL, nil)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		return fmt.Sprintf("%s://%s:%s", scheme, host, port), nil
	}
	return fmt.Sprintf("%s://%s", scheme, host), nil
}
