// SPDX-FileCopyrightText: 2026 The web-activities authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package wsbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
)

// Client is the remote page's end of a Bridge.
type Client struct {
	conn *websocket.Conn

	writeMutex sync.Mutex
}

func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

// WaitAttached blocks until the bridge announced its window and returns the window's location.
func (client *Client) WaitAttached() (string, error) {
	for {
		frame, err := client.Receive()
		if err != nil {
			return "", err
		}
		if frame.Location != "" {
			return frame.Location, nil
		}
	}
}

// Post makes the bridged window post data to target, TargetParent or TargetOpener.
func (client *Client) Post(target, targetOrigin string, data []byte) error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()
	return client.conn.WriteJSON(Outbound{
		Target:       target,
		TargetOrigin: targetOrigin,
		Data:         json.RawMessage(data),
	})
}

// Receive blocks for the next message event of the bridged window.
func (client *Client) Receive() (Inbound, error) {
	var frame Inbound
	err := client.conn.ReadJSON(&frame)
	return frame, err
}

func (client *Client) Close() error {
	client.writeMutex.Lock()
	defer client.writeMutex.Unlock()
	err := client.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if closeErr := client.conn.Close(); err == nil {
		err = closeErr
	}
	return err
}
