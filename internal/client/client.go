// Package client implements the realtime session of a Tomodachi-Link
// user: one long-lived websocket connection per authenticated session,
// the notification bubble state fed by it, and the online-friends
// roster. All inbound events are applied by a single consumer loop, so
// state updates have a deterministic order.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"tomodachilink/internal/models"
	"tomodachilink/internal/notify"
	"tomodachilink/internal/presence"
	"tomodachilink/internal/toast"

	"github.com/gorilla/websocket"
)

var (
	ErrAlreadyConnected = errors.New("session already connected")
	ErrNotConnected     = errors.New("session not connected")
)

type ConnState int

const (
	Disconnected ConnState = iota
	Connecting
	Connected
)

func (s ConnState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Conn is the transport handle the session owns. Satisfied by
// *websocket.Conn.
type Conn interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

// Dialer opens the realtime connection. Overridable in tests.
type Dialer func(ctx context.Context) (Conn, error)

type Config struct {
	// URL of the chat websocket endpoint, e.g. ws://host/api/v1/chat.
	URL string
	// Token authenticates the connection (sent in the token header).
	Token string
	// UserID is the authenticated user's id.
	UserID string

	// ToastTTL controls how long toasts stay up. Zero means the
	// notifier default.
	ToastTTL time.Duration

	// OnMessage is called for every incoming message, after the
	// notification state has been updated. Optional.
	OnMessage func(models.Message)
	// OnTyping is called for typing indicator updates. Optional.
	OnTyping func(conversationID, userID string, typing bool)
	// OnRoster is called after each roster replacement. Optional.
	OnRoster func(members []models.ChatMember)

	// Dial overrides the websocket dialer. Used by tests.
	Dial Dialer
}

func (c *Config) validate() error {
	if c.UserID == "" {
		return errors.New("user id is required")
	}
	if c.Dial == nil && c.URL == "" {
		return errors.New("url is required")
	}
	return nil
}

// Session owns the realtime connection and the client-side state
// derived from it. Create one per authenticated app session and tear
// it down on logout.
type Session struct {
	cfg Config

	Notifications *notify.State
	Roster        *presence.Roster
	Toasts        *toast.Notifier

	state    ConnState
	conn     Conn
	closing  bool
	loopDone chan struct{}
	cleanup  func()
	mu       sync.Mutex

	writeMu sync.Mutex
}

func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.Dial == nil {
		cfg.Dial = gorillaDialer(cfg.URL, cfg.Token)
	}

	return &Session{
		cfg:           cfg,
		Notifications: notify.NewState(),
		Roster:        presence.NewRoster(),
		Toasts:        toast.NewNotifier(cfg.ToastTTL),
	}, nil
}

func gorillaDialer(url, token string) Dialer {
	return func(ctx context.Context) (Conn, error) {
		header := http.Header{}
		if token != "" {
			header.Set("token", token)
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}

// State returns the connection state. The session moves
// Disconnected -> Connecting -> Connected on Connect, and back to
// Disconnected on cleanup or a transport failure.
func (s *Session) State() ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes the realtime connection, announces presence and
// starts the event loop. It returns a cleanup function the caller must
// invoke on logout or unmount; the cleanup is idempotent and releases
// the connection, the subscriptions and all session state.
func (s *Session) Connect(ctx context.Context) (func(), error) {
	s.mu.Lock()
	if s.state != Disconnected {
		s.mu.Unlock()
		return nil, ErrAlreadyConnected
	}
	s.state = Connecting
	s.closing = false
	s.mu.Unlock()

	conn, err := s.cfg.Dial(ctx)
	if err != nil {
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.Toasts.Push(toast.KindError, "Could not connect to chat")
		return nil, fmt.Errorf("failed to dial: %w", err)
	}

	// Presence announcement: tell the server this user is online.
	announce := models.ClientEvent{
		Type:   models.ClientEventAddUser,
		UserID: s.cfg.UserID,
	}
	if err := conn.WriteJSON(announce); err != nil {
		_ = conn.Close()
		s.mu.Lock()
		s.state = Disconnected
		s.mu.Unlock()
		s.Toasts.Push(toast.KindError, "Could not connect to chat")
		return nil, fmt.Errorf("failed to announce presence: %w", err)
	}

	loopDone := make(chan struct{})

	s.mu.Lock()
	s.conn = conn
	s.state = Connected
	s.loopDone = loopDone

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			s.mu.Lock()
			s.closing = true
			c := s.conn
			s.mu.Unlock()

			if c != nil {
				_ = c.Close()
			}
			<-loopDone

			s.reset()
		})
	}
	s.cleanup = cleanup
	s.mu.Unlock()

	go s.eventLoop(conn, loopDone)

	return cleanup, nil
}

// reset returns all session state to its initial values.
func (s *Session) reset() {
	s.mu.Lock()
	s.conn = nil
	s.state = Disconnected
	s.mu.Unlock()

	s.Notifications.Reset()
	s.Roster.Reset()
}

// eventLoop is the single consumer of inbound events. Running all
// state mutations here gives them a deterministic order.
func (s *Session) eventLoop(conn Conn, done chan struct{}) {
	defer close(done)

	for {
		var ev models.ServerEvent
		if err := conn.ReadJSON(&ev); err != nil {
			s.mu.Lock()
			closing := s.closing
			if !closing {
				s.state = Disconnected
			}
			s.mu.Unlock()

			if !closing {
				s.Toasts.Push(toast.KindError, "Chat connection lost")
			}
			return
		}

		s.apply(ev)
	}
}

func (s *Session) apply(ev models.ServerEvent) {
	switch ev.Type {
	case models.ServerEventGetUsers:
		s.Roster.Replace(ev.Users)
		if s.cfg.OnRoster != nil {
			s.cfg.OnRoster(ev.Users)
		}

	case models.ServerEventNewMessage:
		for _, msg := range ev.Messages {
			if msg.UserID != s.cfg.UserID {
				s.Notifications.MarkUnread(msg.ConversationID)
			}
			if s.cfg.OnMessage != nil {
				s.cfg.OnMessage(msg)
			}
		}

	case models.ServerEventTyping:
		if s.cfg.OnTyping != nil {
			s.cfg.OnTyping(ev.ConversationID, ev.UserID, ev.Typing)
		}

	case models.ServerEventMarkRead:
		// Another tab of this user read the conversation.
		s.Notifications.MarkRead(ev.ConversationID)
	}
}

func (s *Session) send(ev models.ClientEvent) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.state == Connected
	s.mu.Unlock()

	if !connected || conn == nil {
		return ErrNotConnected
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(ev)
}

// SendMessage sends a chat message into a conversation.
func (s *Session) SendMessage(conversationID, content string) error {
	return s.send(models.ClientEvent{
		Type:           models.ClientEventSend,
		ConversationID: conversationID,
		Content:        content,
	})
}

// SetTyping reports this user's typing state for a conversation.
func (s *Session) SetTyping(conversationID string, typing bool) error {
	return s.send(models.ClientEvent{
		Type:           models.ClientEventTyping,
		ConversationID: conversationID,
		Typing:         typing,
	})
}

// OpenConversation makes a conversation the active chat and marks it
// read, locally and on the server.
func (s *Session) OpenConversation(conversationID string) {
	s.Notifications.SetActiveChat(conversationID)
	_ = s.send(models.ClientEvent{
		Type:           models.ClientEventMarkRead,
		ConversationID: conversationID,
	})
}

// CloseConversation clears the active chat.
func (s *Session) CloseConversation() {
	s.Notifications.SetActiveChat("")
}

// Close tears the session down. Equivalent to calling the cleanup
// function returned by Connect. Also stops the toast notifier, so the
// session cannot be reused afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	cleanup := s.cleanup
	s.mu.Unlock()

	if cleanup != nil {
		cleanup()
	}
	s.Toasts.Close()
}
