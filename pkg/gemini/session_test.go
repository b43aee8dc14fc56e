package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newLiveServer(t *testing.T, handler func(conn *websocket.Conn)) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func readSetup(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Errorf("read setup frame: %v", err)
		return nil
	}
	var frame map[string]json.RawMessage
	if err := json.Unmarshal(data, &frame); err != nil {
		t.Errorf("decode setup frame: %v", err)
		return nil
	}
	if _, ok := frame["setup"]; !ok {
		t.Errorf("first frame missing setup key: %s", data)
	}
	return frame
}

func writeText(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Errorf("write server frame: %v", err)
	}
}

func drainUntilError(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func connectForTest(t *testing.T, endpoint string, opts ...func(*ConnectionOptions)) *Session {
	t.Helper()
	options := ConnectionOptions{Endpoint: endpoint, HandshakeTimeout: 5 * time.Second}
	for _, opt := range opts {
		opt(&options)
	}
	session, err := Connect(context.Background(), NewSetup("models/test-live"), options, nil)
	if err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func TestConnectCompletesHandshake(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint)
	if got := session.State(); got != StateActive {
		t.Fatalf("state=%s, want %s", got, StateActive)
	}
	if session.ClientID() == "" {
		t.Fatal("client id is empty")
	}
}

func TestConnectRequiresModel(t *testing.T) {
	_, err := Connect(context.Background(), Setup{}, ConnectionOptions{}, nil)
	if err == nil {
		t.Fatal("Connect error=nil, want model validation error")
	}
}

func TestConnectAttachesAuth(t *testing.T) {
	gotKey := make(chan string, 1)
	gotAuth := make(chan string, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey <- r.URL.Query().Get("key") + "|" + r.Header.Get("X-Goog-Api-Key")
		gotAuth <- r.URL.Query().Get("access_token") + "|" + r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		drainUntilError(conn)
	}))
	t.Cleanup(srv.Close)

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	connectForTest(t, endpoint, func(o *ConnectionOptions) {
		o.APIKey = "k123"
		o.AccessToken = "tok456"
	})

	if got := <-gotKey; got != "k123|k123" {
		t.Fatalf("api key propagation=%q, want %q", got, "k123|k123")
	}
	if got := <-gotAuth; got != "tok456|Bearer tok456" {
		t.Fatalf("token propagation=%q, want %q", got, "tok456|Bearer tok456")
	}
}

func TestConnectReplaysPendingEventsInOrder(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"serverContent":{"modelTurn":{"parts":[{"text":"event-a"}]}}}`)
		writeText(t, conn, `{"setupComplete":{}}`)
		writeText(t, conn, `{"serverContent":{"modelTurn":{"parts":[{"text":"event-b"}]}}}`)
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint)

	first, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if got := first.Content.ModelTurn.Parts[0].Text; got != "event-a" {
		t.Fatalf("first event text=%q, want event-a", got)
	}

	second, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if got := second.Content.ModelTurn.Parts[0].Text; got != "event-b" {
		t.Fatalf("second event text=%q, want event-b", got)
	}
}

func TestConnectSetupRejected(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"error":{"code":403,"message":"model not allowed","status":"PERMISSION_DENIED"}}`)
	})

	_, err := Connect(context.Background(), NewSetup("models/test-live"), ConnectionOptions{Endpoint: endpoint}, nil)
	var rejected *SetupRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("error=%v (%T), want *SetupRejectedError", err, err)
	}
	if rejected.Response.Code != 403 {
		t.Fatalf("rejected code=%d, want 403", rejected.Response.Code)
	}
}

func TestConnectSetupNotAcknowledged(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})

	_, err := Connect(context.Background(), NewSetup("models/test-live"), ConnectionOptions{Endpoint: endpoint}, nil)
	if !errors.Is(err, ErrSetupNotAcknowledged) {
		t.Fatalf("error=%v, want ErrSetupNotAcknowledged", err)
	}
}

func TestHandshakeStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	endpoint := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, err := Connect(context.Background(), NewSetup("models/test-live"), ConnectionOptions{Endpoint: endpoint}, nil)
	var status *HandshakeStatusError
	if !errors.As(err, &status) {
		t.Fatalf("error=%v (%T), want *HandshakeStatusError", err, err)
	}
	if status.StatusCode != http.StatusForbidden {
		t.Fatalf("status=%d, want %d", status.StatusCode, http.StatusForbidden)
	}
}

func TestRecvAfterStreamEndYieldsNil(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})

	session := connectForTest(t, endpoint)
	for i := 0; i < 3; i++ {
		event, err := session.Recv()
		if err != nil {
			t.Fatalf("Recv #%d error: %v", i, err)
		}
		if event != nil {
			t.Fatalf("Recv #%d event=%+v, want nil", i, event)
		}
	}
	if got := session.State(); got != StateClosed {
		t.Fatalf("state=%s, want %s", got, StateClosed)
	}
}

func TestRecvAbnormalClose(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "overloaded"),
			time.Now().Add(time.Second))
	})

	session := connectForTest(t, endpoint)
	_, err := session.Recv()
	var closed *ServerClosedError
	if !errors.As(err, &closed) {
		t.Fatalf("error=%v (%T), want *ServerClosedError", err, err)
	}
	if closed.Code != websocket.CloseInternalServerErr || closed.Reason != "overloaded" {
		t.Fatalf("close=%+v, want code %d reason overloaded", closed, websocket.CloseInternalServerErr)
	}

	event, err := session.Recv()
	if event != nil || err != nil {
		t.Fatalf("Recv after abnormal close=(%v, %v), want (nil, nil)", event, err)
	}
}

func TestSendAfterCloseFails(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint)
	if err := session.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if err := session.Close(); err != nil {
		t.Fatalf("second Close error: %v", err)
	}

	err := session.SendTextTurn(context.Background(), "user", "hello", true)
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("send after close error=%v, want ErrConnectionClosed", err)
	}
	err = session.Sender().SendRealtimeText(context.Background(), "hello")
	if !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("sender after close error=%v, want ErrConnectionClosed", err)
	}
}

func TestRecvSkipsMalformedFramesWhenConfigured(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		writeText(t, conn, `not json at all`)
		writeText(t, conn, `{"serverContent":{"turnComplete":true}}`)
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint, func(o *ConnectionOptions) {
		o.SkipMalformedFrames = true
	})
	event, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if event.Kind != EventServerContent || !event.Content.TurnComplete {
		t.Fatalf("event=%+v, want serverContent with turnComplete", event)
	}
}

func TestRecvPropagatesMalformedFrameByDefault(t *testing.T) {
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		writeText(t, conn, `not json at all`)
		writeText(t, conn, `{"serverContent":{"turnComplete":true}}`)
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint)
	_, err := session.Recv()
	var unexpected *UnexpectedMessageError
	if !errors.As(err, &unexpected) {
		t.Fatalf("error=%v (%T), want *UnexpectedMessageError", err, err)
	}

	// The session survives a single malformed frame.
	event, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv after decode error: %v", err)
	}
	if event.Kind != EventServerContent {
		t.Fatalf("event kind=%s, want %s", event.Kind, EventServerContent)
	}
}

func TestConcurrentSendsDoNotInterleave(t *testing.T) {
	const perSender = 50
	frames := make(chan []byte, perSender*2)
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		for i := 0; i < perSender*2; i++ {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			frames <- data
		}
		drainUntilError(conn)
	})

	session := connectForTest(t, endpoint)
	sender := session.Sender()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < perSender; i++ {
			text := fmt.Sprintf("turn-%d-%s", i, strings.Repeat("a", 512))
			if err := session.SendTextTurn(context.Background(), "user", text, true); err != nil {
				t.Errorf("SendTextTurn error: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < perSender; i++ {
			text := fmt.Sprintf("rt-%d-%s", i, strings.Repeat("b", 512))
			if err := sender.SendRealtimeText(context.Background(), text); err != nil {
				t.Errorf("SendRealtimeText error: %v", err)
				return
			}
		}
	}()
	wg.Wait()

	for i := 0; i < perSender*2; i++ {
		select {
		case data := <-frames:
			var envelope map[string]json.RawMessage
			if err := json.Unmarshal(data, &envelope); err != nil {
				t.Fatalf("frame %d is not a complete JSON object: %v", i, err)
			}
			if len(envelope) != 1 {
				t.Fatalf("frame %d has %d top-level keys, want 1", i, len(envelope))
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for frame %d", i)
		}
	}
}

func TestPingAnsweredWithPong(t *testing.T) {
	pong := make(chan struct{}, 1)
	endpoint := newLiveServer(t, func(conn *websocket.Conn) {
		readSetup(t, conn)
		writeText(t, conn, `{"setupComplete":{}}`)
		conn.SetPongHandler(func(string) error {
			select {
			case pong <- struct{}{}:
			default:
			}
			return nil
		})
		_ = conn.WriteControl(websocket.PingMessage, []byte("ka"), time.Now().Add(time.Second))

		// Pump the read side so the pong control frame is processed, then
		// hand the client an event to unblock its Recv.
		go drainUntilError(conn)
		select {
		case <-pong:
		case <-time.After(5 * time.Second):
			t.Error("timed out waiting for pong")
		}
		writeText(t, conn, `{"serverContent":{"turnComplete":true}}`)
		time.Sleep(100 * time.Millisecond)
	})

	session := connectForTest(t, endpoint)
	event, err := session.Recv()
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if event == nil || event.Kind != EventServerContent {
		t.Fatalf("event=%+v, want serverContent", event)
	}
}
