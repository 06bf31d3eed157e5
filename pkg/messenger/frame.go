// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package messenger

import (
	"encoding/json"
	"fmt"
)

// Sentinel marks postMessage traffic belonging to the activity protocol.
const Sentinel = "__ACTIVITIES__"

const (
	// CmdConnect is the host's handshake; it is the only command sent before the origin is known.
	CmdConnect = "connect"
	// CmdStart answers the handshake and carries the activity arguments.
	CmdStart = "start"
	// CmdClose acknowledges the receipt of a result.
	CmdClose = "close"
	// CmdResult carries the activity's outcome as {code, data}.
	CmdResult = "result"
	// CmdReady signals the host has rendered.
	CmdReady = "ready"
	// CmdResize requests a new height as {height}.
	CmdResize = "resize"
	// CmdResized reports the height the port allowed as {height}.
	CmdResized = "resized"
	// CmdMessage carries application messages in both directions.
	CmdMessage = "msg"
)

// Frame is the envelope of every command posted between windows.
type Frame struct {
	Sentinel string          `json:"sentinel"`
	Cmd      string          `json:"cmd"`
	Payload  json.RawMessage `json:"payload"`
}

// SizePayload is the payload of resize and resized commands.
type SizePayload struct {
	Height int `json:"height"`
}

// EncodeFrame serialises a command. A nil payload is sent as null.
func EncodeFrame(cmd string, payload any) ([]byte, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case nil:
		raw = nil
	case json.RawMessage:
		raw = p
	default:
		encoded, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encoding %v payload: %w", cmd, err)
		}
		raw = encoded
	}

	return json.Marshal(Frame{
		Sentinel: Sentinel,
		Cmd:      cmd,
		Payload:  raw,
	})
}

// DecodeFrame parses data and reports whether it is a protocol frame.
// Anything else posted to the window yields ok == false.
func DecodeFrame(data []byte) (frame Frame, ok bool) {
	if err := json.Unmarshal(data, &frame); err != nil {
		return Frame{}, false
	}
	if frame.Sentinel != Sentinel || frame.Cmd == "" {
		return Frame{}, false
	}
	return frame, true
}

// IsNull reports whether a payload is absent or JSON null.
func IsNull(payload json.RawMessage) bool {
	return len(payload) == 0 || string(payload) == "null"
}
