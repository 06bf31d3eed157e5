package iframe

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dtn7/web-activities/pkg/activity"
	"github.com/dtn7/web-activities/pkg/messenger"
	"github.com/dtn7/web-activities/pkg/window"
	"github.com/dtn7/web-activities/pkg/window/memwindow"
)

const (
	publisherURL = "https://publisher.example/page"
	hostURL      = "https://host.example/activity?lang=en"
	hostOrigin   = "https://host.example"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// newPublisher serves page for the host origin and returns the publisher window with an attached iframe.
func newPublisher(t *testing.T, page memwindow.PageFunc) (*memwindow.Browser, *memwindow.Window, *memwindow.Frame) {
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	if page != nil {
		browser.Serve(hostOrigin, page)
	}

	publisher := browser.NewWindow(publisherURL)
	frame := publisher.CreateFrame()
	frame.Attach()
	return browser, publisher, frame
}

func TestResultRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		finish func(host *Host) error
		check  func(t *testing.T, result *activity.Result)
	}{
		{
			name:   "ok",
			finish: func(host *Host) error { return host.Result(map[string]int{"b": 2}) },
			check: func(t *testing.T, result *activity.Result) {
				require.True(t, result.OK())
				require.JSONEq(t, `{"b":2}`, string(result.Data()))
				require.NoError(t, result.Err())
			},
		},
		{
			name:   "canceled",
			finish: func(host *Host) error { return host.Cancel() },
			check: func(t *testing.T, result *activity.Result) {
				require.Equal(t, activity.ResultCanceled, result.Code())
				require.Nil(t, result.Data())
				require.NoError(t, result.Err())
			},
		},
		{
			name:   "failed",
			finish: func(host *Host) error { return host.Failed(errors.New("broken x")) },
			check: func(t *testing.T, result *activity.Result) {
				require.Equal(t, activity.ResultFailed, result.Code())
				require.Nil(t, result.Data())
				require.Regexp(t, "x", result.Err().Error())
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx := testContext(t)
			hosts := make(chan *Host, 1)
			hostErrs := make(chan error, 1)

			_, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
				host := NewHost(w)
				hosts <- host
				if err := host.Connect(ctx); err != nil {
					hostErrs <- err
					return
				}

				var args map[string]int
				if err := host.DecodeArgs(&args); err != nil {
					hostErrs <- err
					return
				}
				if args["a"] != 1 {
					hostErrs <- errors.New("unexpected args")
					return
				}
				hostErrs <- test.finish(host)
			})

			port, err := NewPort(publisher, frame, hostURL, map[string]int{"a": 1})
			require.NoError(t, err)
			require.Equal(t, hostOrigin, port.TargetOrigin())
			require.NoError(t, port.Connect(ctx))

			result, err := port.AcceptResult(ctx)
			require.NoError(t, err)
			require.NoError(t, <-hostErrs)

			test.check(t, result)
			require.Equal(t, activity.ModeIframe, result.Mode())
			require.Equal(t, hostOrigin, result.Origin())
			require.True(t, result.OriginVerified())
			require.True(t, result.SecureChannel())

			// The close acknowledgement disconnects the host.
			host := <-hosts
			require.Eventually(t, func() bool { return !host.Connected() }, time.Second, 5*time.Millisecond)
			require.False(t, port.Connected())
		})
	}
}

func TestHostLearnsPublisherOrigin(t *testing.T) {
	ctx := testContext(t)
	origins := make(chan string, 1)

	_, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
		host := NewHost(w)
		if err := host.Connect(ctx); err != nil {
			origins <- err.Error()
			return
		}
		origin, err := host.TargetOrigin()
		if err != nil {
			origin = err.Error()
		}
		origins <- origin
	})

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)
	require.NoError(t, port.Connect(ctx))
	require.Equal(t, "https://publisher.example", <-origins)
}

func TestForgedResultIgnored(t *testing.T) {
	ctx := testContext(t)
	hosts := make(chan *Host, 1)

	browser, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
		host := NewHost(w)
		if err := host.Connect(ctx); err == nil {
			hosts <- host
		}
	})

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)
	require.NoError(t, port.Connect(ctx))
	host := <-hosts

	forged, err := messenger.EncodeFrame(messenger.CmdResult, activity.Payload{Code: activity.ResultOK, Data: json.RawMessage(`"forged"`)})
	require.NoError(t, err)
	evil := browser.NewWindow("https://evil.example/")
	require.NoError(t, evil.Reference(publisher).PostMessage(forged, window.Wildcard))
	publisher.Sync()

	require.NoError(t, host.Result("real"))
	result, err := port.AcceptResult(ctx)
	require.NoError(t, err)

	var data string
	require.NoError(t, result.DecodeData(&data))
	require.Equal(t, "real", data)
}

func TestResizeNegotiation(t *testing.T) {
	ctx := testContext(t)
	hosts := make(chan *Host, 1)
	hostWindows := make(chan *memwindow.Window, 1)
	container := memwindow.NewElement(100)

	_, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
		host := NewHost(w)
		host.SetSizeContainer(container)
		if err := host.Connect(ctx); err == nil {
			hostWindows <- w
			hosts <- host
		}
	})

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)

	var heightsMutex sync.Mutex
	var heights []int
	port.OnResizeRequest(func(height int) {
		heightsMutex.Lock()
		heights = append(heights, height)
		heightsMutex.Unlock()

		frame.SetOffsetHeight(min(height, 150))
		if err := port.Resized(); err != nil {
			t.Error(err)
		}
	})
	requested := func() []int {
		heightsMutex.Lock()
		defer heightsMutex.Unlock()
		return append([]int(nil), heights...)
	}

	type completion struct {
		allowed, requested int
		overflow           bool
	}
	completions := make(chan completion, 8)

	require.NoError(t, port.Connect(ctx))
	host := <-hosts
	hostWindow := <-hostWindows
	host.OnResizeComplete(func(allowed, requested int, overflow bool) {
		completions <- completion{allowed, requested, overflow}
	})

	require.NoError(t, host.Ready())
	require.NoError(t, host.Ready())
	require.NoError(t, port.WhenReady(ctx))
	publisher.Sync()
	require.Equal(t, []int{100}, requested())
	require.Equal(t, completion{100, 100, false}, <-completions)

	container.SetScrollHeight(200)
	require.NoError(t, host.Resized())
	require.Equal(t, completion{150, 200, true}, <-completions)
	require.Equal(t, []int{100, 200}, requested())

	// Width changes re-measure, an unchanged width does not.
	container.SetScrollHeight(300)
	hostWindow.SetInnerWidth(hostWindow.InnerWidth())
	hostWindow.SetInnerWidth(640)
	require.Equal(t, completion{150, 300, true}, <-completions)
	require.Equal(t, []int{100, 200, 300}, requested())
}

func TestResizeRequestIsBuffered(t *testing.T) {
	ctx := testContext(t)
	hosts := make(chan *Host, 1)

	_, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
		host := NewHost(w)
		host.SetSizeContainer(memwindow.NewElement(120))
		if err := host.Connect(ctx); err == nil {
			hosts <- host
		}
	})

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)
	require.NoError(t, port.Connect(ctx))

	require.NoError(t, (<-hosts).Ready())
	publisher.Sync()

	var replayed []int
	port.OnResizeRequest(func(height int) {
		replayed = append(replayed, height)
	})
	require.Equal(t, []int{120}, replayed)

	port.OnResizeRequest(func(height int) {
		t.Fatalf("Buffered height %d delivered twice", height)
	})
}

func TestPortResizedBeforeConnect(t *testing.T) {
	_, publisher, frame := newPublisher(t, nil)

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)
	require.NoError(t, port.Resized())
	require.False(t, port.Connected())
	require.Nil(t, frame.Window())
}

func TestPortRequiresAttachedFrame(t *testing.T) {
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	publisher := browser.NewWindow(publisherURL)
	frame := publisher.CreateFrame()

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)

	err = port.Connect(testContext(t))
	var notInDocument *NotInDocumentError
	require.ErrorAs(t, err, &notInDocument)
	require.Equal(t, "iframe for "+hostURL+" must be in DOM", err.Error())
	require.Zero(t, publisher.ListenerCount())
}

func TestNewPortRejectsInvalidURL(t *testing.T) {
	_, publisher, frame := newPublisher(t, nil)

	_, err := NewPort(publisher, frame, "/relative", nil)
	var invalidURL *window.InvalidURLError
	require.ErrorAs(t, err, &invalidURL)

	port, err := NewPort(publisher, frame, "/relative", nil, WithTargetOrigin(hostOrigin))
	require.NoError(t, err)
	require.Equal(t, hostOrigin, port.TargetOrigin())
}

// answerStart makes the publisher reply to every connect with start but never acknowledge a result.
func answerStart(t *testing.T, publisher *memwindow.Window) {
	start, err := messenger.EncodeFrame(messenger.CmdStart, nil)
	require.NoError(t, err)

	publisher.AddMessageListener(func(event window.MessageEvent) {
		frame, ok := messenger.DecodeFrame(event.Data)
		if ok && frame.Cmd == messenger.CmdConnect {
			_ = event.Source.PostMessage(start, event.Origin)
		}
	})
}

func TestCloseAckTimeout(t *testing.T) {
	ctx := testContext(t)
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)

	publisher := browser.NewWindow(publisherURL)
	answerStart(t, publisher)
	frame := publisher.CreateFrame()
	frame.Attach()
	frame.SetSrc(hostURL)
	hostWindow := frame.Window()

	host := NewHost(hostWindow, WithCloseAckTimeout(200*time.Millisecond))
	require.NoError(t, host.Connect(ctx))
	require.NoError(t, host.Result("done"))

	var alreadySent *ResultAlreadySentError
	require.ErrorAs(t, host.Cancel(), &alreadySent)
	require.True(t, host.Connected())

	require.Eventually(t, func() bool { return !host.Connected() }, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, hostWindow.ListenerCount())
}

// lossyTarget rejects the first failures result frames posted through it.
type lossyTarget struct {
	window.Target
	failures int
}

func (target *lossyTarget) PostMessage(data []byte, targetOrigin string) error {
	if frame, ok := messenger.DecodeFrame(data); ok && frame.Cmd == messenger.CmdResult && target.failures > 0 {
		target.failures--
		return errors.New("post failed")
	}
	return target.Target.PostMessage(data, targetOrigin)
}

func TestResultRetriedAfterFailedPost(t *testing.T) {
	ctx := testContext(t)
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)

	publisher := browser.NewWindow(publisherURL)
	answerStart(t, publisher)
	results := make(chan messenger.Frame, 2)
	publisher.AddMessageListener(func(event window.MessageEvent) {
		if frame, ok := messenger.DecodeFrame(event.Data); ok && frame.Cmd == messenger.CmdResult {
			results <- frame
		}
	})

	frame := publisher.CreateFrame()
	frame.Attach()
	frame.SetSrc(hostURL)
	hostWindow := frame.Window()

	host := NewHostWithTarget(hostWindow, &lossyTarget{Target: hostWindow.Parent(), failures: 1})
	require.NoError(t, host.Connect(ctx))

	require.EqualError(t, host.Result("first"), "post failed")
	require.NoError(t, host.Result("second"))

	var alreadySent *ResultAlreadySentError
	require.ErrorAs(t, host.Cancel(), &alreadySent)

	publisher.Sync()
	require.Len(t, results, 1)
	result, err := activity.ParsePayload((<-results).Payload, activity.Source{Mode: activity.ModeIframe, Origin: hostOrigin})
	require.NoError(t, err)
	require.JSONEq(t, `"second"`, string(result.Data()))
}

func TestHostConnectAbandoned(t *testing.T) {
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)

	publisher := browser.NewWindow(publisherURL)
	frame := publisher.CreateFrame()
	frame.Attach()
	frame.SetSrc(hostURL)
	hostWindow := frame.Window()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	host := NewHost(hostWindow)
	require.ErrorIs(t, host.Connect(ctx), context.DeadlineExceeded)
	require.False(t, host.Connected())
	require.Zero(t, hostWindow.ListenerCount())
}

func TestHostWithoutParent(t *testing.T) {
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)

	host := NewHost(browser.NewWindow(hostURL))
	var unavailable *messenger.TargetUnavailableError
	require.ErrorAs(t, host.Connect(testContext(t)), &unavailable)
}

func TestHostRequiresConnection(t *testing.T) {
	browser := memwindow.NewBrowser()
	t.Cleanup(browser.Close)
	host := NewHost(browser.NewWindow(hostURL))

	var notConnected *messenger.NotConnectedError
	require.ErrorAs(t, host.Result(nil), &notConnected)
	require.ErrorAs(t, host.Ready(), &notConnected)
	require.ErrorAs(t, host.Resized(), &notConnected)
	require.ErrorAs(t, host.Message("hi"), &notConnected)

	_, err := host.Args()
	require.ErrorAs(t, err, &notConnected)
	_, err = host.TargetOrigin()
	require.ErrorAs(t, err, &notConnected)
}

func TestMessages(t *testing.T) {
	ctx := testContext(t)
	hosts := make(chan *Host, 1)
	hostMessages := make(chan string, 1)

	_, publisher, frame := newPublisher(t, func(w *memwindow.Window) {
		host := NewHost(w)
		host.OnMessage(func(payload json.RawMessage) {
			hostMessages <- string(payload)
		})
		if err := host.Connect(ctx); err == nil {
			hosts <- host
		}
	})

	port, err := NewPort(publisher, frame, hostURL, nil)
	require.NoError(t, err)
	portMessages := make(chan string, 1)
	port.OnMessage(func(payload json.RawMessage) {
		portMessages <- string(payload)
	})
	require.NoError(t, port.Connect(ctx))
	host := <-hosts

	require.NoError(t, port.Message(map[string]string{"to": "host"}))
	require.JSONEq(t, `{"to":"host"}`, <-hostMessages)

	require.NoError(t, host.Message(map[string]string{"to": "port"}))
	require.JSONEq(t, `{"to":"port"}`, <-portMessages)
}

// scriptedHost loads the iframe without a page script and records what the port sends to it.
func scriptedHost(t *testing.T, frame *memwindow.Frame) (*memwindow.Window, chan messenger.Frame) {
	hostWindow := frame.Window()
	require.NotNil(t, hostWindow)

	sent := make(chan messenger.Frame, 8)
	hostWindow.AddMessageListener(func(event window.MessageEvent) {
		if decoded, ok := messenger.DecodeFrame(event.Data); ok {
			sent <- decoded
		}
	})
	return hostWindow, sent
}

func TestSampleScenario(t *testing.T) {
	ctx := testContext(t)
	_, publisher, frame := newPublisher(t, nil)

	port, err := NewPort(publisher, frame, "https://host.example/iframe", map[string]int{"a": 1}, WithTargetOrigin("https://host.example"))
	require.NoError(t, err)

	connected := make(chan error, 1)
	go func() { connected <- port.Connect(ctx) }()
	require.Eventually(t, func() bool { return frame.Window() != nil }, time.Second, time.Millisecond)
	hostWindow, sent := scriptedHost(t, frame)
	parent := hostWindow.Parent()

	require.NoError(t, parent.PostMessage(mustEncode(t, messenger.CmdConnect, nil), window.Wildcard))
	require.NoError(t, <-connected)
	require.True(t, port.Connected())

	start := <-sent
	require.Equal(t, messenger.CmdStart, start.Cmd)
	require.JSONEq(t, `{"a":1}`, string(start.Payload))

	require.NoError(t, parent.PostMessage(mustEncode(t, messenger.CmdResult, json.RawMessage(`{"code":"ok","data":"abc"}`)), "https://publisher.example"))
	result, err := port.AcceptResult(ctx)
	require.NoError(t, err)
	require.True(t, result.OK())
	require.JSONEq(t, `"abc"`, string(result.Data()))

	closeCmd := <-sent
	require.Equal(t, messenger.CmdClose, closeCmd.Cmd)
	require.False(t, port.Connected())
}

func TestCrossOriginHandshakeRejected(t *testing.T) {
	browser, publisher, frame := newPublisher(t, nil)

	port, err := NewPort(publisher, frame, "https://host.example/iframe", map[string]int{"a": 1})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	connected := make(chan error, 1)
	go func() { connected <- port.Connect(ctx) }()

	evil := browser.NewWindow("https://evil.example/")
	require.NoError(t, evil.Reference(publisher).PostMessage(mustEncode(t, messenger.CmdConnect, nil), window.Wildcard))
	publisher.Sync()

	require.False(t, port.Connected())
	require.ErrorIs(t, <-connected, context.DeadlineExceeded)
}

func mustEncode(t *testing.T, cmd string, payload any) []byte {
	data, err := messenger.EncodeFrame(cmd, payload)
	require.NoError(t, err)
	return data
}
