package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"tomodachilink/internal/api"
	"tomodachilink/internal/auth"
	"tomodachilink/internal/filestore"
	"tomodachilink/internal/storage"
	"tomodachilink/internal/ws"
)

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(authService *auth.AuthService, hub *ws.Hub, avatars filestore.AvatarStore, store *storage.BboltStorage, vapidPublic, addr string) *APIServer {
	wsServer := ws.NewServer(authService, hub)
	apiHandlers := api.New(authService, hub, avatars, store, vapidPublic)

	mux := http.NewServeMux()

	// Auth
	mux.HandleFunc("POST /api/v1/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/v1/signup", api.RequireSameOrigin(apiHandlers.SignupHandler))
	mux.HandleFunc("POST /api/v1/logoff", api.RequireSameOrigin(apiHandlers.LogoffHandler))

	// Users and profile
	mux.HandleFunc("GET /api/v1/me", apiHandlers.RequireAuth(apiHandlers.MeHandler))
	mux.HandleFunc("GET /api/v1/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("GET /api/v1/users/online", apiHandlers.RequireAuth(apiHandlers.OnlineUsersHandler))
	mux.HandleFunc("POST /api/v1/me/display-name", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UpdateDisplayNameHandler)))
	mux.HandleFunc("POST /api/v1/me/avatar", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.UploadAvatarHandler)))
	mux.HandleFunc("GET /api/v1/images/{id}", apiHandlers.GetImageHandler)

	// Friends
	mux.HandleFunc("GET /api/v1/friends", apiHandlers.RequireAuth(apiHandlers.FriendsHandler))
	mux.HandleFunc("POST /api/v1/friends/request", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendRequestHandler)))
	mux.HandleFunc("POST /api/v1/friends/accept", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendAcceptHandler)))
	mux.HandleFunc("POST /api/v1/friends/remove", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.FriendRemoveHandler)))

	// Conversations
	mux.HandleFunc("GET /api/v1/conversations", apiHandlers.RequireAuth(apiHandlers.ConversationsHandler))
	mux.HandleFunc("GET /api/v1/conversations/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))

	// Web push
	mux.HandleFunc("GET /api/v1/push/key", apiHandlers.RequireAuth(apiHandlers.VAPIDPublicKeyHandler))
	mux.HandleFunc("POST /api/v1/push/subscribe", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PushSubscribeHandler)))

	// WebSocket endpoint
	mux.HandleFunc("/api/v1/chat", wsServer.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
