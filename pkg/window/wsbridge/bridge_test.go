package wsbridge

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/iframe"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/window"
	"github.com/dtn7/web-activities/pkg/window/memwindow"
)

const (
	publisherOrigin = "https://publisher.example"
	remoteOrigin    = "https://remote.example"
)

// bridgeServer serves remoteOrigin documents by bridging them to the next websocket client.
func bridgeServer(t *testing.T, browser *memwindow.Browser) string {
	conns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		conns <- conn
	}))
	t.Cleanup(server.Close)

	browser.Serve(remoteOrigin, func(w *memwindow.Window) {
		select {
		case conn := <-conns:
			_ = New(w, conn).Run(context.Background())
		case <-time.After(5 * time.Second):
			t.Error("No remote page connected")
		}
	})

	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func receiveFrame(t *testing.T, client *Client) (string, messenger.Frame) {
	inbound, err := client.Receive()
	require.NoError(t, err)
	frame, ok := messenger.DecodeFrame(inbound.Data)
	require.True(t, ok, "not a protocol frame: %s", inbound.Data)
	return inbound.Origin, frame
}

func mustEncode(t *testing.T, cmd string, payload any) []byte {
	data, err := messenger.EncodeFrame(cmd, payload)
	require.NoError(t, err)
	return data
}

func TestRemoteHostCompletesActivity(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	url := bridgeServer(t, browser)

	client, err := Dial(ctx, url)
	require.NoError(t, err)

	publisher := browser.NewWindow(publisherOrigin + "/")
	frame := publisher.CreateFrame()
	frame.Attach()

	port, err := iframe.NewPort(publisher, frame, remoteOrigin+"/activity", map[string]string{"q": "x"})
	require.NoError(t, err)

	connected := make(chan error, 1)
	go func() { connected <- port.Connect(ctx) }()

	location, err := client.WaitAttached()
	require.NoError(t, err)
	require.Equal(t, remoteOrigin+"/activity", location)

	require.NoError(t, client.Post(TargetParent, "*", mustEncode(t, messenger.CmdConnect, nil)))
	require.NoError(t, <-connected)

	origin, start := receiveFrame(t, client)
	require.Equal(t, publisherOrigin, origin)
	require.Equal(t, messenger.CmdStart, start.Cmd)
	require.JSONEq(t, `{"q":"x"}`, string(start.Payload))

	payload, err := activity.NewPayload(activity.ResultOK, "abc")
	require.NoError(t, err)
	require.NoError(t, client.Post(TargetParent, publisherOrigin, mustEncode(t, messenger.CmdResult, payload)))

	result, err := port.AcceptResult(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.JSONEq(t, `"abc"`, string(result.Data()))
	require.Equal(t, remoteOrigin, result.Origin())

	_, closeFrame := receiveFrame(t, client)
	require.Equal(t, messenger.CmdClose, closeFrame.Cmd)

	require.NoError(t, client.Close())
}

func TestUnknownTargetIsDropped(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	url := bridgeServer(t, browser)

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	publisher := browser.NewWindow(publisherOrigin + "/")
	received := make(chan struct{}, 4)
	publisher.AddMessageListener(func(event window.MessageEvent) { received <- struct{}{} })

	frame := publisher.CreateFrame()
	frame.Attach()
	frame.SetSrc(remoteOrigin + "/")

	_, err = client.WaitAttached()
	require.NoError(t, err)

	// No opener, no such target and a missing target origin are all dropped.
	require.NoError(t, client.Post(TargetOpener, "*", []byte(`"a"`)))
	require.NoError(t, client.Post("top", "*", []byte(`"b"`)))
	require.NoError(t, client.Post(TargetParent, "", []byte(`"c"`)))
	require.NoError(t, client.Post(TargetParent, "*", []byte(`"d"`)))

	select {
	case <-received:
	case <-ctx.Done():
		t.Fatal("Message to parent was not delivered")
	}
	publisher.Sync()
	require.Empty(t, received)
}

func TestNonJSONMessagesAreQuoted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	url := bridgeServer(t, browser)

	client, err := Dial(ctx, url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	publisher := browser.NewWindow(publisherOrigin + "/")
	frame := publisher.CreateFrame()
	frame.Attach()
	frame.SetSrc(remoteOrigin + "/")

	_, err = client.WaitAttached()
	require.NoError(t, err)

	require.NoError(t, frame.ContentWindow().PostMessage([]byte("plain text"), remoteOrigin))
	inbound, err := client.Receive()
	require.NoError(t, err)
	require.Equal(t, publisherOrigin, inbound.Origin)
	require.JSONEq(t, `"plain text"`, string(inbound.Data))
}
