package vtube

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// session is one dialed socket plus its reader goroutine.
type session struct {
	conn  *websocket.Conn
	msgs  chan []byte
	pongs chan struct{}
	done  chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

func newSession(conn *websocket.Conn) *session {
	s := &session{
		conn:  conn,
		msgs:  make(chan []byte, 64),
		pongs: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
	conn.SetPongHandler(func(string) error {
		select {
		case s.pongs <- struct{}{}:
		default:
		}
		return nil
	})
	go s.readLoop()
	return s
}

func (s *session) readLoop() {
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.shutdown(err)
			return
		}
		select {
		case s.msgs <- data:
		case <-s.done:
			return
		}
	}
}

func (s *session) writeJSON(payload any, timeout time.Duration) error {
	if !s.alive() {
		return s.cause()
	}
	if timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(timeout))
		defer s.conn.SetWriteDeadline(time.Time{})
	}
	return s.conn.WriteJSON(payload)
}

func (s *session) ping(timeout time.Duration) error {
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}

// discardPending drops frames left over from an earlier timed-out request.
func (s *session) discardPending() {
	for {
		select {
		case <-s.msgs:
		default:
			return
		}
	}
}

func (s *session) alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

func (s *session) cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		return errors.New("connection closed")
	}
	return s.err
}

func (s *session) shutdown(cause error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}
