package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"ai-companion-demo/backend/internal/chat"
	"ai-companion-demo/backend/internal/chatlog"
	"ai-companion-demo/backend/internal/conversation"
	"ai-companion-demo/backend/internal/session"
	apperrors "ai-companion-demo/backend/pkg/errors"
	"ai-companion-demo/backend/pkg/logger"
	wsproto "ai-companion-demo/backend/pkg/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoHandle struct {
	gate chan struct{}
}

func (h *echoHandle) Run(ctx context.Context, input string) (string, error) {
	if h.gate != nil {
		select {
		case <-h.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "echo: " + input, nil
}

type echoProvider struct {
	gate chan struct{}
}

func (p *echoProvider) NewHandle(context.Context, string, string) (conversation.Handle, error) {
	return &echoHandle{gate: p.gate}, nil
}

// panicHandle panics on "boom" and echoes anything else
type panicHandle struct{}

func (panicHandle) Run(_ context.Context, input string) (string, error) {
	if input == "boom" {
		panic("nil map in prompt template")
	}
	return "echo: " + input, nil
}

type panicProvider struct{}

func (panicProvider) NewHandle(context.Context, string, string) (conversation.Handle, error) {
	return panicHandle{}, nil
}

type failingRepo struct {
	attempts atomic.Int32
}

func (r *failingRepo) Insert(context.Context, *chatlog.Record) error {
	r.attempts.Add(1)
	return errors.New("pq: relation \"chat_logs\" does not exist")
}

type testServer struct {
	server   *httptest.Server
	hub      *Hub
	registry *session.Registry
}

func newTestServer(t *testing.T, provider conversation.Provider) *testServer {
	t.Helper()
	return newTestServerWithLogs(t, provider, nil)
}

func newTestServerWithLogs(t *testing.T, provider conversation.Provider, logs chat.LogSubmitter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := session.NewRegistry(provider, nil)
	hub := NewHub(chat.NewService(registry, logs, logger.Nop()), []string{"*"}, logger.Nop())

	r := gin.New()
	r.GET("/ws", hub.ServeWs)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = hub.Shutdown(ctx)
		srv.Close()
	})
	return &testServer{server: srv, hub: hub, registry: registry}
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, eventType string, content any) {
	t.Helper()
	data, err := wsproto.Encode(eventType, content)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func receive(t *testing.T, conn *websocket.Conn) wsproto.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsproto.Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStartChatThenSendMessage(t *testing.T) {
	s := newTestServer(t, &echoProvider{})
	conn := s.dial(t)

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u-1", CompanionID: "c-1"})
	msg := receive(t, conn)
	require.Equal(t, wsproto.EventSessionKey, msg.Type)

	var key wsproto.SessionKey
	require.NoError(t, json.Unmarshal(msg.Content, &key))
	assert.NotEmpty(t, key.SessionKey)
	assert.Equal(t, 1, s.registry.Len())

	send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: "hello", UserID: "u-1", CompanionID: "c-1"})
	msg = receive(t, conn)
	require.Equal(t, wsproto.EventReceiveMessage, msg.Type)

	var reply wsproto.ReceiveMessage
	require.NoError(t, json.Unmarshal(msg.Content, &reply))
	assert.Equal(t, "echo: hello", reply.Message)
}

func TestSessionKeysDifferPerConnection(t *testing.T) {
	s := newTestServer(t, &echoProvider{})
	keys := make(map[string]struct{})

	for i := 0; i < 2; i++ {
		conn := s.dial(t)
		send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u", CompanionID: "c"})
		var key wsproto.SessionKey
		require.NoError(t, json.Unmarshal(receive(t, conn).Content, &key))
		keys[key.SessionKey] = struct{}{}
	}
	assert.Len(t, keys, 2)
}

func TestSendMessageWithoutSessionReturnsErrorEvent(t *testing.T) {
	s := newTestServer(t, &echoProvider{})
	conn := s.dial(t)

	send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: "hi", UserID: "u", CompanionID: "c"})
	msg := receive(t, conn)
	require.Equal(t, wsproto.EventError, msg.Type)

	var e wsproto.Error
	require.NoError(t, json.Unmarshal(msg.Content, &e))
	assert.Equal(t, apperrors.CodeSessionNotFound, e.Code)
}

func TestInvalidEventsReturnErrorEvents(t *testing.T) {
	s := newTestServer(t, &echoProvider{})
	conn := s.dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	send(t, conn, "dance", nil)
	send(t, conn, wsproto.EventStartChat, map[string]string{"user_id": "u"})

	for i := 0; i < 3; i++ {
		msg := receive(t, conn)
		require.Equal(t, wsproto.EventError, msg.Type)
		var e wsproto.Error
		require.NoError(t, json.Unmarshal(msg.Content, &e))
		assert.Equal(t, apperrors.CodeInvalidRequest, e.Code)
	}
	assert.Equal(t, 0, s.registry.Len())
}

func TestPingIsAnsweredWhileReplyIsPending(t *testing.T) {
	gate := make(chan struct{})
	s := newTestServer(t, &echoProvider{gate: gate})
	conn := s.dial(t)

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u", CompanionID: "c"})
	require.Equal(t, wsproto.EventSessionKey, receive(t, conn).Type)

	send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: "slow", UserID: "u", CompanionID: "c"})
	send(t, conn, wsproto.EventPing, nil)
	assert.Equal(t, wsproto.EventPong, receive(t, conn).Type)

	close(gate)
	assert.Equal(t, wsproto.EventReceiveMessage, receive(t, conn).Type)
}

func TestReplyIsDeliveredWhenChatLogWritesFail(t *testing.T) {
	repo := &failingRepo{}
	sink := chatlog.NewSink(repo, nil, chatlog.Config{Workers: 1, MaxRetries: 0, WriteTimeout: time.Second}, nil, logger.Nop())
	sink.Start(context.Background())
	t.Cleanup(func() { _ = sink.Close(context.Background()) })

	s := newTestServerWithLogs(t, &echoProvider{}, sink)
	conn := s.dial(t)

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u", CompanionID: "c"})
	require.Equal(t, wsproto.EventSessionKey, receive(t, conn).Type)

	for _, text := range []string{"first", "second"} {
		send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: text, UserID: "u", CompanionID: "c"})
		msg := receive(t, conn)
		require.Equal(t, wsproto.EventReceiveMessage, msg.Type)
		var reply wsproto.ReceiveMessage
		require.NoError(t, json.Unmarshal(msg.Content, &reply))
		assert.Equal(t, "echo: "+text, reply.Message)
	}

	assert.Eventually(t, func() bool {
		return repo.attempts.Load() == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPanickingHandleReturnsInternalError(t *testing.T) {
	s := newTestServer(t, panicProvider{})
	conn := s.dial(t)

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u", CompanionID: "c"})
	require.Equal(t, wsproto.EventSessionKey, receive(t, conn).Type)

	send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: "boom", UserID: "u", CompanionID: "c"})
	msg := receive(t, conn)
	require.Equal(t, wsproto.EventError, msg.Type)
	var e wsproto.Error
	require.NoError(t, json.Unmarshal(msg.Content, &e))
	assert.Equal(t, apperrors.CodeInternal, e.Code)

	// the connection and its session survive the panic
	send(t, conn, wsproto.EventPing, nil)
	assert.Equal(t, wsproto.EventPong, receive(t, conn).Type)

	send(t, conn, wsproto.EventSendMessage, chat.SendMessageRequest{Message: "still there?", UserID: "u", CompanionID: "c"})
	msg = receive(t, conn)
	require.Equal(t, wsproto.EventReceiveMessage, msg.Type)
	var reply wsproto.ReceiveMessage
	require.NoError(t, json.Unmarshal(msg.Content, &reply))
	assert.Equal(t, "echo: still there?", reply.Message)
	assert.Equal(t, 1, s.registry.Len())
}

func TestDisconnectRemovesSession(t *testing.T) {
	s := newTestServer(t, &echoProvider{})
	conn := s.dial(t)

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "u", CompanionID: "c"})
	require.Equal(t, wsproto.EventSessionKey, receive(t, conn).Type)
	require.Equal(t, 1, s.hub.Len())

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool {
		return s.registry.Len() == 0 && s.hub.Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAuthenticatedSocketRejectsForeignUser(t *testing.T) {
	gin.SetMode(gin.TestMode)
	registry := session.NewRegistry(&echoProvider{}, nil)
	hub := NewHub(chat.NewService(registry, nil, logger.Nop()), nil, logger.Nop())

	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("userId", "owner")
		hub.ServeWs(c)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()

	send(t, conn, wsproto.EventStartChat, chat.StartChatRequest{UserID: "intruder", CompanionID: "c"})
	msg := receive(t, conn)
	require.Equal(t, wsproto.EventError, msg.Type)
	var e wsproto.Error
	require.NoError(t, json.Unmarshal(msg.Content, &e))
	assert.Equal(t, apperrors.CodeUnauthorized, e.Code)
	assert.Equal(t, 0, registry.Len())
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://app.example.com/"})

	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.example.com/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("https://app.example.com")))
	assert.True(t, check(req("")))
	assert.True(t, check(req("http://api.example.com")))
	assert.False(t, check(req("https://evil.example.com")))

	assert.True(t, originChecker([]string{"*"})(req("https://anything.example")))
	assert.True(t, originChecker(nil)(req("https://anything.example")))
}
