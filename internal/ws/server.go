package ws

import (
	"log"
	"net/http"

	"tomodachilink/internal/auth"

	"github.com/gorilla/websocket"
)

type Server struct {
	auth     *auth.AuthService
	hub      *Hub
	upgrader *websocket.Upgrader
}

func NewServer(authService *auth.AuthService, hub *Hub) *Server {
	return &Server{
		auth: authService,
		hub:  hub,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Same-origin is enforced by the token check
			},
		},
	}
}

func (s *Server) token(r *http.Request) string {
	token := r.Header.Get("token")
	if token == "" {
		if c, err := r.Cookie(auth.CookieName); err == nil {
			token = c.Value
		}
	}
	return token
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.GetUserID(s.token(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.hub, wsConn, userID)
	if conn.fromServer == nil {
		// User unknown to the hub.
		_ = wsConn.Close()
		return
	}

	if err := conn.Handle(r.Context()); err != nil {
		log.Printf("websocket session ended with error for user %s: %v", userID, err)
	}
}
