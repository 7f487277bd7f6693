package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"tomodachilink/internal/auth"
	"tomodachilink/internal/content"
	"tomodachilink/internal/filestore"
	"tomodachilink/internal/models"
	"tomodachilink/internal/storage"
	"tomodachilink/internal/ws"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxAvatarSize = 5 << 20 // 5 MiB

type API struct {
	auth        *auth.AuthService
	hub         *ws.Hub
	avatars     filestore.AvatarStore
	store       *storage.BboltStorage
	vapidPublic string
}

func New(authService *auth.AuthService, hub *ws.Hub, avatars filestore.AvatarStore, store *storage.BboltStorage, vapidPublic string) *API {
	return &API{
		auth:        authService,
		hub:         hub,
		avatars:     avatars,
		store:       store,
		vapidPublic: vapidPublic,
	}
}

func (a *API) setTokenCookie(w http.ResponseWriter, resp auth.LoginResponse) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    resp.Token,
		HttpOnly: true,
		Path:     "/",
		Expires:  time.Unix(resp.TokenExpiry, 0),
	})
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest

	// Support both JSON and form bodies (the frontend login form posts
	// x-www-form-urlencoded).
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "Failed to parse form")
			return
		}
		req.Username = r.FormValue("username")
		req.Password = r.FormValue("password")
	}

	loginResp, _ := a.auth.Login(req)
	if !loginResp.Success {
		writeError(w, http.StatusUnauthorized, loginResp.Message)
		return
	}

	a.setTokenCookie(w, loginResp)
	writeJSON(w, loginResp)
}

func (a *API) SignupHandler(w http.ResponseWriter, r *http.Request) {
	var req auth.SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}
	req.DisplayName = content.Sanitize(req.DisplayName)

	creds, err := a.auth.AddUser(req)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, http.StatusConflict, "Username is taken")
			return
		}
		writeError(w, http.StatusInternalServerError, "Signup failed")
		return
	}

	a.hub.AddUser(creds.User)

	// Log the new user straight in.
	loginResp, _ := a.auth.Login(auth.LoginRequest{
		Username: req.Username,
		Password: req.Password,
	})
	if loginResp.Success {
		a.setTokenCookie(w, loginResp)
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, loginResp)
}

func (a *API) LogoffHandler(w http.ResponseWriter, r *http.Request) {
	token := getToken(r)
	if token != "" {
		if userID, err := a.auth.GetUserID(token); err == nil {
			// Drop the live websocket, if any.
			a.hub.Leave(userID, nil)
		}
		_ = a.auth.Logoff(token)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.CookieName,
		Value:    "",
		HttpOnly: true,
		Path:     "/",
		MaxAge:   -1,
	})

	w.WriteHeader(http.StatusOK)
}

func (a *API) MeHandler(w http.ResponseWriter, r *http.Request) {
	user, err := a.auth.GetUser(userIDFrom(r))
	if err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}
	writeJSON(w, user)
}

func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.auth.ListUsers())
}

// OnlineUsersHandler returns the current roster. The same data is
// pushed over the websocket as a getUsers event; this endpoint exists
// for the initial page render.
func (a *API) OnlineUsersHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.hub.OnlineUsers())
}

type friendRequest struct {
	UserID string `json:"userId"`
}

type friendsResponse struct {
	Friends  []models.User       `json:"friends"`
	Incoming []models.Friendship `json:"incoming"`
	Outgoing []models.Friendship `json:"outgoing"`
}

func (a *API) FriendsHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	friendships, err := a.store.ListFriendships(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load friends")
		return
	}

	resp := friendsResponse{
		Friends:  []models.User{},
		Incoming: []models.Friendship{},
		Outgoing: []models.Friendship{},
	}
	for _, f := range friendships {
		switch {
		case f.State == models.FriendshipAccepted:
			otherID := f.Requester
			if otherID == userID {
				otherID = f.Recipient
			}
			if user, err := a.auth.GetUser(otherID); err == nil {
				user.Presence.Online = a.hub.IsOnline(otherID)
				resp.Friends = append(resp.Friends, user)
			}
		case f.Recipient == userID:
			resp.Incoming = append(resp.Incoming, f)
		default:
			resp.Outgoing = append(resp.Outgoing, f)
		}
	}

	writeJSON(w, resp)
}

func (a *API) FriendRequestHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == userID {
		writeError(w, http.StatusBadRequest, "Cannot befriend yourself")
		return
	}
	if _, err := a.auth.GetUser(req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "User not found")
		return
	}

	if _, err := a.store.GetFriendship(userID, req.UserID); err == nil {
		writeError(w, http.StatusConflict, "Friend request already exists")
		return
	}

	f := models.Friendship{
		Requester: userID,
		Recipient: req.UserID,
		State:     models.FriendshipPending,
		CreatedAt: time.Now().Unix(),
	}
	if err := a.store.UpsertFriendship(f); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save friend request")
		return
	}

	w.WriteHeader(http.StatusCreated)
	writeJSON(w, f)
}

func (a *API) FriendAcceptHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	f, err := a.store.GetFriendship(userID, req.UserID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Friend request not found")
		return
	}
	if f.Recipient != userID || f.State != models.FriendshipPending {
		writeError(w, http.StatusForbidden, "Not your friend request to accept")
		return
	}

	f.State = models.FriendshipAccepted
	if err := a.store.UpsertFriendship(f); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save friendship")
		return
	}

	// An accepted friendship gets its DM conversation. A re-accepted
	// pair keeps its stored record so message numbering continues.
	a.hub.AddFriendship(f.Requester, f.Recipient)
	convID := ws.DMConversationID(f.Requester, f.Recipient)
	if _, err := a.store.GetConversation(convID); errors.Is(err, models.ErrNotFound) {
		if err := a.store.UpsertConversation(models.Conversation{ID: convID, LastSeq: -1}); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to create conversation")
			return
		}
	} else if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create conversation")
		return
	}

	writeJSON(w, f)
}

// FriendRemoveHandler declines a pending request or removes an
// accepted friendship.
func (a *API) FriendRemoveHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	var req friendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if _, err := a.store.GetFriendship(userID, req.UserID); err != nil {
		writeError(w, http.StatusNotFound, "Friendship not found")
		return
	}

	if err := a.store.DeleteFriendship(userID, req.UserID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to remove friendship")
		return
	}

	// The live conversation goes away with the friendship; history
	// stays on disk and comes back if the pair re-friends.
	a.hub.RemoveFriendship(userID, req.UserID)

	w.WriteHeader(http.StatusOK)
}

func (a *API) ConversationsHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.hub.GetConversations(userIDFrom(r)))
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)
	conversationID := r.PathValue("id")

	count := 50
	if c := r.URL.Query().Get("count"); c != "" {
		parsed, err := strconv.Atoi(c)
		if err != nil || parsed < 1 || parsed > 200 {
			writeError(w, http.StatusBadRequest, "Invalid count")
			return
		}
		count = parsed
	}

	messages, err := a.hub.GetRecentMessages(userID, conversationID, count)
	if err != nil {
		writeError(w, http.StatusNotFound, "Conversation not found")
		return
	}

	writeJSON(w, messages)
}

type displayNameRequest struct {
	DisplayName string `json:"displayName"`
}

func (a *API) UpdateDisplayNameHandler(w http.ResponseWriter, r *http.Request) {
	var req displayNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	displayName := content.Sanitize(req.DisplayName)
	if displayName == "" {
		writeError(w, http.StatusBadRequest, "Display name cannot be empty")
		return
	}

	user, err := a.auth.UpdateUser(userIDFrom(r), func(u *models.User) {
		u.DisplayName = displayName
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update display name")
		return
	}

	a.hub.AddUser(user)
	writeJSON(w, user)
}

func (a *API) UploadAvatarHandler(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r)

	body, err := io.ReadAll(io.LimitReader(r.Body, maxAvatarSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	if len(body) > maxAvatarSize {
		writeError(w, http.StatusRequestEntityTooLarge, "Avatar too large")
		return
	}

	// Sniff the real content type, the declared one is not trusted.
	kind, err := filetype.Match(body)
	if err != nil || !filetype.IsImage(body) {
		writeError(w, http.StatusUnsupportedMediaType, "Avatar must be an image")
		return
	}

	hash, size, err := a.avatars.Save(bytes.NewReader(body))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store avatar")
		return
	}

	meta := storage.FileMetadata{
		ID:        uuid.NewString(),
		Hash:      hash,
		MimeType:  kind.MIME.Value,
		Size:      size,
		CreatedAt: time.Now().Unix(),
		UserID:    userID,
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store avatar")
		return
	}

	avatarURL := fmt.Sprintf("/api/v1/images/%s", meta.ID)
	user, err := a.auth.UpdateUser(userID, func(u *models.User) {
		u.AvatarURL = avatarURL
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update avatar")
		return
	}

	a.hub.AddUser(user)
	writeJSON(w, user)
}

func (a *API) GetImageHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}

	f, err := a.avatars.Get(meta.Hash)
	if err != nil {
		writeError(w, http.StatusNotFound, "Image not found")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	_, _ = io.Copy(w, f)
}

type pushSubscribeRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
}

func (a *API) PushSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	var req pushSubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := a.store.UpsertPushSubscription(storage.DBPushSubscription{
		UserID:   userIDFrom(r),
		Endpoint: req.Endpoint,
		P256dh:   req.Keys.P256dh,
		Auth:     req.Keys.Auth,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save subscription")
		return
	}

	w.WriteHeader(http.StatusCreated)
}

func (a *API) VAPIDPublicKeyHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"publicKey": a.vapidPublic})
}
