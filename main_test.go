package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tomodachilink/internal/auth"
	"tomodachilink/internal/client"
	"tomodachilink/internal/models"
	"tomodachilink/internal/ws"

	"github.com/stretchr/testify/require"
)

func TestIntegration(t *testing.T) {
	tmpDir := t.TempDir()
	apiAddr := "127.0.0.1:18880"
	adminAddr := "127.0.0.1:18881"

	_ = os.Setenv("TOMODACHI_DB", filepath.Join(tmpDir, "integration_test.db"))
	_ = os.Setenv("UPLOADS_PATH", filepath.Join(tmpDir, "uploads"))
	_ = os.Setenv("ADMIN_ADDR", adminAddr)
	_ = os.Setenv("API_ADDR", apiAddr)
	_ = os.Setenv("AUTH_SECRET", "very-secure-test-secret")
	defer func() {
		_ = os.Unsetenv("TOMODACHI_DB")
		_ = os.Unsetenv("UPLOADS_PATH")
		_ = os.Unsetenv("ADMIN_ADDR")
		_ = os.Unsetenv("API_ADDR")
		_ = os.Unsetenv("AUTH_SECRET")
	}()

	// Start server in background
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := run(ctx, ""); err != nil && err != context.Canceled {
			t.Errorf("Server error: %v", err)
		}
	}()

	baseURL := "http://" + apiAddr
	waitForServer(t, baseURL+"/api/v1/users/online", 50)

	httpClient := &http.Client{}

	// Step 1: Sign up two users
	signup := func(username, password string) (token string) {
		body, _ := json.Marshal(auth.SignupRequest{
			Username:    username,
			Password:    password,
			DisplayName: username,
		})
		resp, err := httpClient.Post(baseURL+"/api/v1/signup", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		var loginResp auth.LoginResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&loginResp))
		require.True(t, loginResp.Success)
		require.NotEmpty(t, loginResp.Token)
		return loginResp.Token
	}

	aliceToken := signup("alice", "alicepassword")
	bobToken := signup("bob", "bobpassword")

	// A duplicate username is rejected
	{
		body, _ := json.Marshal(auth.SignupRequest{Username: "alice", Password: "whatever123"})
		resp, err := httpClient.Post(baseURL+"/api/v1/signup", "application/json", bytes.NewReader(body))
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusConflict, resp.StatusCode)
	}

	// Step 2: Look up user IDs
	authedGet := func(token, path string, out any) int {
		req, err := http.NewRequest("GET", baseURL+path, nil)
		require.NoError(t, err)
		req.Header.Set("token", token)
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		if out != nil && resp.StatusCode == http.StatusOK {
			require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
		}
		return resp.StatusCode
	}

	authedPost := func(token, path string, payload any) int {
		body, _ := json.Marshal(payload)
		req, err := http.NewRequest("POST", baseURL+path, bytes.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("token", token)
		resp, err := httpClient.Do(req)
		require.NoError(t, err)
		_ = resp.Body.Close()
		return resp.StatusCode
	}

	var users []models.User
	require.Equal(t, http.StatusOK, authedGet(aliceToken, "/api/v1/users", &users))
	require.Len(t, users, 2)

	ids := map[string]string{}
	for _, u := range users {
		ids[u.UserName] = u.ID
	}
	aliceID, bobID := ids["alice"], ids["bob"]
	require.NotEmpty(t, aliceID)
	require.NotEmpty(t, bobID)

	// Step 3: Friend request and accept
	require.Equal(t, http.StatusCreated,
		authedPost(aliceToken, "/api/v1/friends/request", map[string]string{"userId": bobID}))
	require.Equal(t, http.StatusOK,
		authedPost(bobToken, "/api/v1/friends/accept", map[string]string{"userId": aliceID}))

	var bobFriends struct {
		Friends []models.User `json:"friends"`
	}
	require.Equal(t, http.StatusOK, authedGet(bobToken, "/api/v1/friends", &bobFriends))
	require.Len(t, bobFriends.Friends, 1)
	require.Equal(t, aliceID, bobFriends.Friends[0].ID)

	// Step 4: Connect both over the websocket
	wsURL := "ws://" + apiAddr + "/api/v1/chat"

	aliceMsgs := make(chan models.Message, 10)
	alice, err := client.New(client.Config{
		URL:       wsURL,
		Token:     aliceToken,
		UserID:    aliceID,
		OnMessage: func(m models.Message) { aliceMsgs <- m },
	})
	require.NoError(t, err)

	bobMsgs := make(chan models.Message, 10)
	bob, err := client.New(client.Config{
		URL:       wsURL,
		Token:     bobToken,
		UserID:    bobID,
		OnMessage: func(m models.Message) { bobMsgs <- m },
	})
	require.NoError(t, err)

	aliceCleanup, err := alice.Connect(ctx)
	require.NoError(t, err)
	bobCleanup, err := bob.Connect(ctx)
	require.NoError(t, err)

	// Both sessions see both users in the roster
	waitForCond(t, func() bool {
		return alice.Roster.Online(bobID) && bob.Roster.Online(aliceID)
	}, "roster did not converge")

	require.Equal(t, 1, alice.Roster.OnlineFriendCount([]string{bobID}))

	// Step 5: Send a message, check delivery and the unread badge
	convID := ws.DMConversationID(aliceID, bobID)
	require.NoError(t, alice.SendMessage(convID, "hello bob"))

	select {
	case m := <-bobMsgs:
		require.Equal(t, aliceID, m.UserID)
		require.Equal(t, "hello bob", m.Content)
	case <-time.After(3 * time.Second):
		t.Fatal("bob did not receive the message")
	}

	// Sender gets the echo but no unread marker
	select {
	case m := <-aliceMsgs:
		require.Equal(t, aliceID, m.UserID)
	case <-time.After(3 * time.Second):
		t.Fatal("alice did not receive the echo")
	}
	require.False(t, alice.Notifications.ShowBadge())

	require.True(t, bob.Notifications.IsUnread(convID))
	require.True(t, bob.Notifications.ShowBadge())

	// Opening the conversation clears the badge
	bob.OpenConversation(convID)
	require.False(t, bob.Notifications.ShowBadge())

	// Step 6: Backfill over REST
	var history []models.Message
	require.Equal(t, http.StatusOK,
		authedGet(bobToken, "/api/v1/conversations/"+convID+"/messages", &history))
	require.Len(t, history, 1)
	require.Equal(t, "hello bob", history[0].Content)

	// Step 7: Disconnect bob, alice sees the roster shrink
	bobCleanup()
	bobCleanup() // idempotent

	waitForCond(t, func() bool {
		return !alice.Roster.Online(bobID)
	}, "bob still in the roster after disconnect")
	require.Equal(t, client.Disconnected, bob.State())
	require.False(t, bob.Notifications.ShowBadge())
	require.Equal(t, 0, bob.Roster.Size())

	aliceCleanup()

	// Step 8: Logoff revokes the token
	require.Equal(t, http.StatusOK, authedPost(aliceToken, "/api/v1/logoff", nil))
	require.Equal(t, http.StatusUnauthorized, authedGet(aliceToken, "/api/v1/me", nil))
}

func waitForServer(t *testing.T, urlStr string, retries int) {
	t.Helper()

	httpClient := &http.Client{Timeout: 500 * time.Millisecond}
	for i := 0; i < retries; i++ {
		resp, err := httpClient.Get(urlStr)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("Server failed to start at %s after %d retries", urlStr, retries)
}

func waitForCond(t *testing.T, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}
