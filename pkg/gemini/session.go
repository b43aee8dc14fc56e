package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultLiveEndpoint is the public preview endpoint for Gemini Live API
// sessions.
const DefaultLiveEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const controlWriteTimeout = 5 * time.Second

// ConnectionOptions holds connection parameters for a live session.
type ConnectionOptions struct {
	// Endpoint overrides DefaultLiveEndpoint when set.
	Endpoint string
	// APIKey is attached as the key query parameter and X-Goog-Api-Key
	// header.
	APIKey string
	// AccessToken is attached as the access_token query parameter and
	// Authorization bearer header.
	AccessToken string
	// HandshakeTimeout bounds the websocket upgrade.
	HandshakeTimeout time.Duration
	// SkipMalformedFrames makes Recv log and skip inbound frames that fail
	// to decode instead of propagating the error. The session stays open
	// either way.
	SkipMalformedFrames bool
}

func (o ConnectionOptions) buildRequest() (string, http.Header, error) {
	endpoint := o.Endpoint
	if endpoint == "" {
		endpoint = DefaultLiveEndpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	query := u.Query()
	if o.APIKey != "" {
		query.Set("key", o.APIKey)
	}
	if o.AccessToken != "" {
		query.Set("access_token", o.AccessToken)
	}
	u.RawQuery = query.Encode()

	header := http.Header{}
	if o.APIKey != "" {
		header.Set("X-Goog-Api-Key", o.APIKey)
	}
	if o.AccessToken != "" {
		header.Set("Authorization", "Bearer "+o.AccessToken)
	}
	return u.String(), header, nil
}

// wire owns the shared half of the duplex connection. Writes are serialized
// by writeMu so frames from concurrent senders never interleave; the closed
// flag is the single source of truth for whether traffic is still permitted.
type wire struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	closed  atomic.Bool
}

func (w *wire) writeText(payload []byte) error {
	if w.closed.Load() {
		return ErrConnectionClosed
	}
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, payload)
}

func (w *wire) pong(appData string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(controlWriteTimeout))
}

// close sends a single close frame and tears down the connection. Safe to
// call from any holder of the wire; only the first call writes the frame.
func (w *wire) close() error {
	if w.closed.Swap(true) {
		return nil
	}
	w.writeMu.Lock()
	err := w.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(controlWriteTimeout),
	)
	w.writeMu.Unlock()
	_ = w.conn.Close()
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Session is an active Gemini live session. The inbound half is exclusively
// owned by the session: Recv must not be called from more than one goroutine.
// Send methods and Sender handles may be used concurrently.
type Session struct {
	wire     *wire
	opts     ConnectionOptions
	logger   *zap.Logger
	clientID string
	state    *stateTracker

	// pending buffers events observed before the setup acknowledgment.
	// Drained FIFO by Recv ahead of live reads. Only touched by the
	// goroutine calling Recv.
	pending []*ServerEvent
}

// Connect opens the websocket, sends the setup frame, and waits for the
// server acknowledgment. Events arriving before the acknowledgment are
// buffered in order and replayed by Recv. Connect never retries; retry
// policy belongs to the caller.
func Connect(ctx context.Context, setup Setup, opts ConnectionOptions, logger *zap.Logger) (*Session, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strings.TrimSpace(setup.Model) == "" {
		return nil, errors.New("setup model is required")
	}

	dialURL, header, err := opts.buildRequest()
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, dialURL, header)
	if err != nil {
		if errors.Is(err, websocket.ErrBadHandshake) && resp != nil {
			return nil, &HandshakeStatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		}
		return nil, fmt.Errorf("dial live endpoint: %w", err)
	}
	if resp == nil || resp.StatusCode != http.StatusSwitchingProtocols {
		_ = conn.Close()
		status := ""
		code := 0
		if resp != nil {
			status = resp.Status
			code = resp.StatusCode
		}
		return nil, &HandshakeStatusError{StatusCode: code, Status: status}
	}

	session := &Session{
		wire:     &wire{conn: conn},
		opts:     opts,
		logger:   logger,
		clientID: uuid.NewString(),
		state:    newStateTracker(),
	}
	conn.SetPingHandler(func(appData string) error {
		return session.wire.pong(appData)
	})
	conn.SetCloseHandler(func(code int, text string) error {
		// The close frame surfaces through ReadMessage; no echo needed.
		return nil
	})

	if err := session.sendSetup(ctx, setup); err != nil {
		_ = conn.Close()
		return nil, err
	}
	session.state.set(StateAwaitingSetupAck)

	if err := session.awaitSetupComplete(); err != nil {
		session.wire.closed.Store(true)
		session.state.set(StateClosed)
		_ = conn.Close()
		return nil, err
	}
	session.state.set(StateActive)

	logger.Info("gemini session established",
		zap.String("client_id", session.clientID),
		zap.String("model", setup.Model),
		zap.Int("buffered_events", len(session.pending)),
	)
	return session, nil
}

// ClientID returns the locally generated identifier for this connection.
func (s *Session) ClientID() string {
	return s.clientID
}

// State returns the current session state.
func (s *Session) State() State {
	return s.state.State()
}

// Sender returns a shareable handle for the outbound half. Handles remain
// valid across goroutines; writes are mutually exclusive on the wire.
func (s *Session) Sender() Sender {
	return Sender{wire: s.wire}
}

// SendMessage serializes and sends a raw client message.
func (s *Session) SendMessage(ctx context.Context, message ClientMessage) error {
	return sendMessage(ctx, s.wire, message)
}

// SendClientContent sends a clientContent message.
func (s *Session) SendClientContent(ctx context.Context, content ClientContent) error {
	return sendMessage(ctx, s.wire, ClientMessage{ClientContent: &content})
}

// SendTextTurn sends a single text turn, optionally marking it complete.
func (s *Session) SendTextTurn(ctx context.Context, role string, text string, turnComplete bool) error {
	return s.SendClientContent(ctx, ClientContent{
		Turns:        []Content{TextContent(role, text)},
		TurnComplete: turnComplete,
	})
}

// SendRealtimeText sends a realtimeInput message with a text chunk.
func (s *Session) SendRealtimeText(ctx context.Context, text string) error {
	return sendMessage(ctx, s.wire, ClientMessage{RealtimeInput: &RealtimeInput{Text: text}})
}

// SendToolResponse sends a tool response payload back to the model.
func (s *Session) SendToolResponse(ctx context.Context, response ToolResponse) error {
	return sendMessage(ctx, s.wire, ClientMessage{ToolResponse: &response})
}

// Recv returns the next server event. Buffered pre-acknowledgment events are
// delivered first, in arrival order. A graceful end of the inbound stream
// yields (nil, nil) on this and every subsequent call; an abnormal server
// close yields a *ServerClosedError. No internal timeout is imposed.
func (s *Session) Recv() (*ServerEvent, error) {
	if len(s.pending) > 0 {
		event := s.pending[0]
		s.pending = s.pending[1:]
		return event, nil
	}
	return s.readNextEvent()
}

// Close sends a close frame and marks the session closed. Idempotent:
// repeated calls are no-ops and never write a second close frame.
func (s *Session) Close() error {
	if s.wire.closed.Load() {
		return nil
	}
	s.state.set(StateClosing)
	err := s.wire.close()
	s.state.set(StateClosed)
	if err != nil {
		return err
	}
	s.logger.Info("gemini session closed", zap.String("client_id", s.clientID))
	return nil
}

func (s *Session) sendSetup(ctx context.Context, setup Setup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(struct {
		Setup Setup `json:"setup"`
	}{Setup: setup})
	if err != nil {
		return fmt.Errorf("encode setup frame: %w", err)
	}
	return s.wire.writeText(payload)
}

func (s *Session) awaitSetupComplete() error {
	for {
		event, err := s.readNextEvent()
		if err != nil {
			return err
		}
		if event == nil {
			return ErrSetupNotAcknowledged
		}
		switch event.Kind {
		case EventSetupComplete:
			return nil
		case EventError:
			return &SetupRejectedError{Response: *event.Err}
		default:
			s.pending = append(s.pending, event)
		}
	}
}

func (s *Session) readNextEvent() (*ServerEvent, error) {
	for {
		if s.wire.closed.Load() {
			return nil, nil
		}

		_, data, err := s.wire.conn.ReadMessage()
		if err != nil {
			return s.finishRead(err)
		}

		event, err := ParseServerEvent(data)
		if err != nil {
			if s.opts.SkipMalformedFrames {
				s.logger.Warn("skipping malformed server frame",
					zap.String("client_id", s.clientID),
					zap.Error(err),
				)
				continue
			}
			return nil, err
		}
		return event, nil
	}
}

// finishRead maps the terminal read error to the receive contract and makes
// subsequent Recv calls cheap no-ops against the dead transport.
func (s *Session) finishRead(err error) (*ServerEvent, error) {
	wasClosed := s.wire.closed.Swap(true)
	s.state.set(StateClosed)
	_ = s.wire.conn.Close()
	if wasClosed {
		// A local Close raced the blocked read; this is a clean shutdown.
		return nil, nil
	}

	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		if closeErr.Code == websocket.CloseNormalClosure {
			return nil, nil
		}
		return nil, &ServerClosedError{Code: closeErr.Code, Reason: closeErr.Text}
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		// Inbound stream exhausted without a close frame.
		return nil, nil
	}
	return nil, fmt.Errorf("read server frame: %w", err)
}

func sendMessage(ctx context.Context, w *wire, message ClientMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Encode outside the write lock; the lock covers only the wire write.
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode client message: %w", err)
	}
	return w.writeText(payload)
}

// Sender is a shareable outbound handle. The zero value is not usable;
// obtain one from Session.Sender.
type Sender struct {
	wire *wire
}

// SendMessage serializes and sends a raw client message.
func (s Sender) SendMessage(ctx context.Context, message ClientMessage) error {
	return sendMessage(ctx, s.wire, message)
}

// SendClientContent sends a clientContent message.
func (s Sender) SendClientContent(ctx context.Context, content ClientContent) error {
	return sendMessage(ctx, s.wire, ClientMessage{ClientContent: &content})
}

// SendTextTurn sends a single text turn, optionally marking it complete.
func (s Sender) SendTextTurn(ctx context.Context, role string, text string, turnComplete bool) error {
	return s.SendClientContent(ctx, ClientContent{
		Turns:        []Content{TextContent(role, text)},
		TurnComplete: turnComplete,
	})
}

// SendRealtimeText sends a realtimeInput message with a text chunk.
func (s Sender) SendRealtimeText(ctx context.Context, text string) error {
	return sendMessage(ctx, s.wire, ClientMessage{RealtimeInput: &RealtimeInput{Text: text}})
}

// SendToolResponse sends a tool response payload back to the model.
func (s Sender) SendToolResponse(ctx context.Context, response ToolResponse) error {
	return sendMessage(ctx, s.wire, ClientMessage{ToolResponse: &response})
}

// Close closes the connection through the shared handle. Idempotent.
func (s Sender) Close() error {
	return s.wire.close()
}
