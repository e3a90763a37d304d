package vtube

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ent0n29/vtutor/internal/protocol"
)

type fakeHandler func(req fakeRequest) (protocol.MessageType, any)

type fakeRequest struct {
	RequestID   string          `json:"requestID"`
	MessageType string          `json:"messageType"`
	Data        json.RawMessage `json:"data"`
}

// fakeAvatar is an in-process avatar server speaking the public API envelope.
type fakeAvatar struct {
	t      *testing.T
	srv    *httptest.Server
	conns  atomic.Int32
	mu     sync.Mutex
	seen   []string
	routes map[string]fakeHandler
	live   []*websocket.Conn
	// silent stops answering pings on new connections.
	silent atomic.Bool
}

func newFakeAvatar(t *testing.T) *fakeAvatar {
	t.Helper()
	f := &fakeAvatar{t: t, routes: map[string]fakeHandler{}}
	f.routes[string(protocol.TypeAuthenticationTokenRequest)] = func(fakeRequest) (protocol.MessageType, any) {
		return protocol.TypeAuthenticationTokenResponse, protocol.AuthenticationTokenResponse{AuthenticationToken: "issued-token"}
	}
	f.routes[string(protocol.TypeAuthenticationRequest)] = func(fakeRequest) (protocol.MessageType, any) {
		return protocol.TypeAuthenticationResponse, protocol.AuthenticationResponse{Authenticated: true}
	}
	f.routes[string(protocol.TypeInputParameterListRequest)] = func(fakeRequest) (protocol.MessageType, any) {
		return protocol.TypeInputParameterListResponse, protocol.InputParameterListResponse{ModelLoaded: true}
	}
	f.routes[string(protocol.TypeParameterCreationRequest)] = func(r fakeRequest) (protocol.MessageType, any) {
		var in protocol.ParameterCreationRequest
		_ = json.Unmarshal(r.Data, &in)
		return protocol.TypeParameterCreationResponse, protocol.ParameterCreationResponse{ParameterName: in.ParameterName}
	}
	f.routes[string(protocol.TypeInjectParameterDataRequest)] = func(fakeRequest) (protocol.MessageType, any) {
		return protocol.TypeInjectParameterDataResponse, map[string]any{}
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		f.conns.Add(1)
		if f.silent.Load() {
			conn.SetPingHandler(func(string) error { return nil })
		}
		f.mu.Lock()
		f.live = append(f.live, conn)
		f.mu.Unlock()
		defer conn.Close()
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req fakeRequest
			if err := json.Unmarshal(raw, &req); err != nil {
				return
			}
			f.mu.Lock()
			f.seen = append(f.seen, req.MessageType)
			h := f.routes[req.MessageType]
			f.mu.Unlock()
			if h == nil {
				continue
			}
			typ, data := h(req)
			if typ == "" {
				continue
			}
			payload, _ := json.Marshal(data)
			_ = conn.WriteJSON(protocol.Response{
				APIName:     protocol.APIName,
				APIVersion:  protocol.APIVersion,
				RequestID:   req.RequestID,
				MessageType: typ,
				Data:        payload,
			})
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeAvatar) url() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeAvatar) handle(t protocol.MessageType, h fakeHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes[string(t)] = h
}

func (f *fakeAvatar) requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

func (f *fakeAvatar) count(t protocol.MessageType) int {
	n := 0
	for _, s := range f.requests() {
		if s == string(t) {
			n++
		}
	}
	return n
}

// dropAll closes every server-side socket.
func (f *fakeAvatar) dropAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.live {
		_ = c.Close()
	}
	f.live = nil
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := NewClient(ClientOptions{
		URL:            url,
		PingInterval:   time.Hour,
		PingTimeout:    time.Second,
		RequestTimeout: 2 * time.Second,
		ReconnectBase:  time.Second,
		ReconnectMax:   time.Minute,
		Logger:         zerolog.Nop(),
	})
	t.Cleanup(func() { _ = c.Close() })
	return c
}
