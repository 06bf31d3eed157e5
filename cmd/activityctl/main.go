// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/akamensky/argparse"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/playground"
	"github.com/dtn7/web-activities/pkg/ports"
	"github.com/dtn7/web-activities/pkg/window/wsbridge"
)

func main() {
	parser := argparse.NewParser("activityctl", "Start activities and collect their results via activityd")
	parser.ExitOnHelp(true)
	address := parser.String("a", "address", &argparse.Options{
		Help:     "Base URL of activityd",
		Required: false,
		Default:  "http://localhost:8080",
	})

	open := parser.NewCommand("open", "Open an activity in a popup or by redirect")
	openURL := open.String("u", "url", &argparse.Options{
		Help:     "URL of the activity",
		Required: true,
	})
	openTarget := open.String("t", "target", &argparse.Options{
		Help:     "Window name, '_top' redirects the publisher",
		Required: false,
		Default:  "",
	})
	openArgs := open.String("j", "args", &argparse.Options{
		Help:     "JSON arguments for the activity",
		Required: false,
		Default:  "null",
	})
	openID := open.String("i", "id", &argparse.Options{
		Help:     "Request ID, generated if empty",
		Required: false,
		Default:  "",
	})
	openNoFallback := open.Flag("n", "no-fallback", &argparse.Options{
		Help:     "Fail instead of redirecting when the popup is blocked",
		Required: false,
		Default:  false,
	})

	iframe := parser.NewCommand("iframe", "Open an activity in an iframe")
	iframeURL := iframe.String("u", "url", &argparse.Options{
		Help:     "URL of the activity",
		Required: true,
	})
	iframeOrigin := iframe.String("o", "origin", &argparse.Options{
		Help:     "Expected origin of the activity, derived from the URL if empty",
		Required: false,
		Default:  "",
	})
	iframeArgs := iframe.String("j", "args", &argparse.Options{
		Help:     "JSON arguments for the activity",
		Required: false,
		Default:  "null",
	})
	iframeID := iframe.String("i", "id", &argparse.Options{
		Help:     "Request ID, generated if empty",
		Required: false,
		Default:  "",
	})

	result := parser.NewCommand("result", "Fetch the result of an activity")
	resultID := result.String("i", "id", &argparse.Options{
		Help:     "Request ID",
		Required: true,
	})
	resultWait := result.String("w", "wait", &argparse.Options{
		Help:     "How long to wait for a pending activity",
		Required: false,
		Default:  "0s",
	})
	resultPeek := result.Flag("p", "peek", &argparse.Options{
		Help:     "Keep the result for a later fetch",
		Required: false,
		Default:  false,
	})

	pending := parser.NewCommand("pending", "List activities")
	pendingState := pending.Selector("s", "state", []string{playground.StatePending, playground.StateUnread, playground.StateAll}, &argparse.Options{
		Help:     "Running activities, finished ones not fetched yet, or all",
		Required: false,
		Default:  playground.StatePending,
	})

	clearCmd := parser.NewCommand("clear", "Forget all activities known to activityd")

	host := parser.NewCommand("host", "Act as a remote activity page for a bridged origin")
	hostOrigin := host.String("o", "origin", &argparse.Options{
		Help:     "Bridged origin to serve",
		Required: true,
	})
	hostOutcome := host.Selector("c", "code", []string{"ok", "canceled", "failed"}, &argparse.Options{
		Help:     "Outcome to report",
		Required: false,
		Default:  "ok",
	})
	hostData := host.String("d", "data", &argparse.Options{
		Help:     "JSON result data, or the reason of a failure",
		Required: false,
		Default:  "null",
	})

	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	base := strings.TrimSuffix(*address, "/")

	if open.Happened() {
		handleStart(base+"/api/open", playground.RestOpenRequest{
			RequestID:               *openID,
			URL:                     *openURL,
			Target:                  *openTarget,
			Args:                    jsonArgument(*openArgs),
			DisableRedirectFallback: *openNoFallback,
		})
	} else if iframe.Happened() {
		handleStart(base+"/api/iframe", playground.RestIframeRequest{
			RequestID: *iframeID,
			URL:       *iframeURL,
			Origin:    *iframeOrigin,
			Args:      jsonArgument(*iframeArgs),
		})
	} else if result.Happened() {
		wait, err := time.ParseDuration(*resultWait)
		if err != nil {
			fail(err)
		}
		handleResult(base, *resultID, wait, *resultPeek)
	} else if pending.Happened() {
		handlePending(base, *pendingState)
	} else if clearCmd.Happened() {
		handleClear(base)
	} else if host.Happened() {
		handleHost(base, *hostOrigin, activity.ResultCode(*hostOutcome), *hostData)
	}
}

func fail(err error) {
	_, _ = fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func jsonArgument(value string) json.RawMessage {
	if !json.Valid([]byte(value)) {
		fail(fmt.Errorf("not valid JSON: %v", value))
	}
	return json.RawMessage(value)
}

func printJSON(v any) {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		fail(err)
	}
}

func handleStart(endpoint string, request any) {
	body, err := json.Marshal(request)
	if err != nil {
		fail(err)
	}

	resp, err := http.Post(endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	var response playground.RestStartResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fail(err)
	}
	if response.Error != "" {
		fail(fmt.Errorf("%v", response.Error))
	}
	fmt.Println(response.RequestID)
}

func fetchResult(base, requestID string, peek bool) (int, playground.RestResultResponse) {
	endpoint := base + "/api/result/" + url.PathEscape(requestID)
	if peek {
		endpoint += "?peek=true"
	}
	resp, err := http.Get(endpoint)
	if err != nil {
		fail(err)
	}
	defer resp.Body.Close()

	var response playground.RestResultResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fail(err)
	}
	return resp.StatusCode, response
}

func handleResult(base, requestID string, wait time.Duration, peek bool) {
	deadline := time.Now().Add(wait)
	for {
		status, response := fetchResult(base, requestID, peek)
		if status != http.StatusAccepted || !time.Now().Before(deadline) {
			if response.Error != "" {
				fail(fmt.Errorf("%v", response.Error))
			}
			printJSON(response)
			return
		}
		time.Sleep(250 * time.Millisecond)
	}
}

func printRequests(resp *http.Response) {
	defer resp.Body.Close()

	var response playground.RestPendingResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		fail(err)
	}
	if response.Error != "" {
		fail(fmt.Errorf("%v", response.Error))
	}
	for _, requestID := range response.Requests {
		fmt.Println(requestID)
	}
}

func handlePending(base, state string) {
	resp, err := http.Get(base + "/api/pending?state=" + url.QueryEscape(state))
	if err != nil {
		fail(err)
	}
	printRequests(resp)
}

func handleClear(base string) {
	req, err := http.NewRequest(http.MethodDelete, base+"/api/requests", nil)
	if err != nil {
		fail(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fail(err)
	}
	printRequests(resp)
}

// handleHost waits until a document of origin is loaded, answers its handshake and reports the outcome.
func handleHost(base, origin string, code activity.ResultCode, data string) {
	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/ws?origin=" + url.QueryEscape(origin)
	client, err := wsbridge.Dial(context.Background(), wsURL)
	if err != nil {
		fail(err)
	}
	defer client.Close()

	location, err := client.WaitAttached()
	if err != nil {
		fail(err)
	}
	_, _ = fmt.Fprintln(os.Stderr, "Attached to", location)

	// Popups carry their request in the URL, iframes receive it with start.
	target := wsbridge.TargetParent
	if _, err := ports.ParseRequest(location); err == nil {
		target = wsbridge.TargetOpener
	}

	connect, err := messenger.EncodeFrame(messenger.CmdConnect, nil)
	if err != nil {
		fail(err)
	}
	if err := client.Post(target, "*", connect); err != nil {
		fail(err)
	}

	var publisherOrigin string
	for publisherOrigin == "" {
		inbound, err := client.Receive()
		if err != nil {
			fail(err)
		}
		if frame, ok := messenger.DecodeFrame(inbound.Data); ok && frame.Cmd == messenger.CmdStart {
			publisherOrigin = inbound.Origin
			_, _ = fmt.Fprintf(os.Stderr, "Started by %v with %s\n", publisherOrigin, frame.Payload)
		}
	}

	var payloadData any
	switch code {
	case activity.ResultFailed:
		payloadData = data
	case activity.ResultOK:
		payloadData = jsonArgument(data)
	}
	payload, err := activity.NewPayload(code, payloadData)
	if err != nil {
		fail(err)
	}
	resultFrame, err := messenger.EncodeFrame(messenger.CmdResult, payload)
	if err != nil {
		fail(err)
	}
	if err := client.Post(target, publisherOrigin, resultFrame); err != nil {
		fail(err)
	}

	// The publisher closes a popup right after its acknowledgement.
	if target == wsbridge.TargetOpener {
		fmt.Println("Success")
		return
	}

	for {
		inbound, err := client.Receive()
		if err != nil {
			fail(err)
		}
		if frame, ok := messenger.DecodeFrame(inbound.Data); ok && frame.Cmd == messenger.CmdClose {
			fmt.Println("Success")
			return
		}
	}
}
