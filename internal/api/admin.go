package api

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"

	"tomodachilink/internal/auth"
	"tomodachilink/internal/content"
	"tomodachilink/internal/ws"
)

type AdminHandler struct {
	authService *auth.AuthService
	hub         *ws.Hub
}

func NewAdminHandler(authService *auth.AuthService, hub *ws.Hub) *AdminHandler {
	return &AdminHandler{authService: authService, hub: hub}
}

type AddUserRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
	Password    string `json:"password,omitempty"`
}

type AddUserResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
}

// AddUserHandler creates a user out of band. When no password is
// given a random one is generated and returned once.
func (h *AdminHandler) AddUserHandler(w http.ResponseWriter, r *http.Request) {
	var req AddUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := content.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	password := req.Password
	if password == "" {
		b := make([]byte, 12)
		if _, err := rand.Read(b); err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to generate password")
			return
		}
		password = base64.RawURLEncoding.EncodeToString(b)
	}

	creds, err := h.authService.AddUser(auth.SignupRequest{
		Username:    req.Username,
		Password:    password,
		DisplayName: content.Sanitize(req.DisplayName),
	})
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(AddUserResponse{
			Success: false,
			Message: fmt.Sprintf("Failed to create user: %v", err),
		})
		return
	}

	h.hub.AddUser(creds.User)

	writeJSON(w, AddUserResponse{
		Success:  true,
		Username: creds.UserName,
		Password: password,
	})
}
