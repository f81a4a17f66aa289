package events

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/chowcity/chowcity-client/internal/logging"
)

type testServer struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	conns    []*websocket.Conn
	received []envelope
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	s := &testServer{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *testServer) send(event string, payload any) {
	s.t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(s.t, err)
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(s.t, s.conns)
	conn := s.conns[len(s.conns)-1]
	require.NoError(s.t, conn.WriteJSON(envelope{Event: event, Data: data}))
}

func (s *testServer) dropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *testServer) events() []envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]envelope, len(s.received))
	copy(out, s.received)
	return out
}

func (s *testServer) connCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := New(url, logging.New("error"))
	c.config = ReconnectConfig{
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func waitConnected(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, c.Connected, 2*time.Second, 10*time.Millisecond)
}

func TestEmitBeforeConnect(t *testing.T) {
	c := newTestClient(t, "ws://127.0.0.1:1/nowhere")
	require.ErrorIs(t, c.Emit("cartUpdated", "x"), ErrNotConnected)
}

func TestEmitReachesServer(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.url())
	c.Connect()
	waitConnected(t, c)

	require.NoError(t, c.Emit(EventCartCleared, "ada@chow.city"))
	require.Eventually(t, func() bool {
		return len(srv.events()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, EventCartCleared, srv.events()[0].Event)
}

func TestSubscribeAndUnsubscribe(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.url())

	var mu sync.Mutex
	var got []string
	unsub := c.Subscribe(EventOrderUpdated, func(data json.RawMessage) {
		mu.Lock()
		got = append(got, string(data))
		mu.Unlock()
	})

	c.Connect()
	waitConnected(t, c)

	srv.send(EventOrderUpdated, map[string]string{"id": "1"})
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 10*time.Millisecond)

	unsub()
	srv.send(EventOrderUpdated, map[string]string{"id": "2"})
	srv.send(EventSettingsUpdated, map[string]int{"deliveryFee": 500})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
}

func TestMalformedPayloadDoesNotKillPump(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.url())

	received := make(chan struct{}, 1)
	c.Subscribe(EventOrderUpdated, func(json.RawMessage) {
		received <- struct{}{}
	})

	c.Connect()
	waitConnected(t, c)

	srv.mu.Lock()
	conn := srv.conns[len(srv.conns)-1]
	srv.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	srv.send(EventOrderUpdated, map[string]string{"id": "1"})
	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("event after malformed payload never arrived")
	}
}

func TestReconnectRejoinsRoomAndFiresHook(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.url())

	var hooks sync.WaitGroup
	hooks.Add(1)
	var once sync.Once
	c.OnReconnect(func() {
		once.Do(hooks.Done)
	})

	c.Connect()
	waitConnected(t, c)
	require.NoError(t, c.Join("ada@chow.city"))

	require.Eventually(t, func() bool {
		return len(srv.events()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.dropConnections()
	require.Eventually(t, func() bool {
		return srv.connCount() == 1 && c.Connected()
	}, 3*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		hooks.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect hook never fired")
	}

	// The identity room is re-joined on the new connection.
	require.Eventually(t, func() bool {
		joins := 0
		for _, env := range srv.events() {
			if env.Event == EventJoin {
				joins++
			}
		}
		return joins == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCloseStopsRedialAndRejectsEmit(t *testing.T) {
	srv := newTestServer(t)
	c := newTestClient(t, srv.url())
	c.Connect()
	waitConnected(t, c)

	require.NoError(t, c.Close())
	require.ErrorIs(t, c.Emit(EventCartCleared, "x"), ErrClosed)

	time.Sleep(200 * time.Millisecond)
	require.False(t, c.Connected())
	// Closing twice is fine.
	require.NoError(t, c.Close())
}
