// tlchat is a terminal client for a running Tomodachi-Link server.
// It logs in over the REST API, opens the realtime session and mirrors
// the state a browser client would show: online friends, unread
// badges and toasts.
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"

	"tomodachilink/internal/client"
	"tomodachilink/internal/models"
	"tomodachilink/internal/toast"
)

type loginResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Token   string `json:"token"`
}

func login(baseURL, username, password string) (string, error) {
	body, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	resp, err := http.Post(baseURL+"/api/v1/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("login request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", fmt.Errorf("failed to decode login response: %w", err)
	}
	if !lr.Success {
		return "", fmt.Errorf("login rejected: %s", lr.Message)
	}
	return lr.Token, nil
}

func getJSON(baseURL, token, path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("token", token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	username := flag.String("user", "", "Username")
	password := flag.String("pass", "", "Password")
	flag.Parse()

	if *username == "" || *password == "" {
		log.Fatal("both -user and -pass are required")
	}

	token, err := login(*baseURL, *username, *password)
	if err != nil {
		log.Fatalf("login failed: %v", err)
	}

	var me models.User
	if err := getJSON(*baseURL, token, "/api/v1/me", &me); err != nil {
		log.Fatalf("failed to load profile: %v", err)
	}

	var friends struct {
		Friends []models.User `json:"friends"`
	}
	if err := getJSON(*baseURL, token, "/api/v1/friends", &friends); err != nil {
		log.Fatalf("failed to load friends: %v", err)
	}
	friendIDs := make([]string, 0, len(friends.Friends))
	names := make(map[string]string)
	for _, f := range friends.Friends {
		friendIDs = append(friendIDs, f.ID)
		names[f.ID] = f.DisplayName
	}

	wsURL := strings.Replace(*baseURL, "http", "ws", 1) + "/api/v1/chat"

	session, err := client.New(client.Config{
		URL:    wsURL,
		Token:  token,
		UserID: me.ID,
		OnMessage: func(m models.Message) {
			name := names[m.UserID]
			if name == "" {
				name = m.UserID
			}
			fmt.Printf("[%s] %s: %s\n", m.ConversationID, name, m.Content)
		},
		OnTyping: func(conversationID, userID string, typing bool) {
			if typing {
				fmt.Printf("[%s] %s is typing...\n", conversationID, names[userID])
			}
		},
	})
	if err != nil {
		log.Fatalf("failed to create session: %v", err)
	}

	cleanup, err := session.Connect(context.Background())
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer cleanup()

	// Mirror toast notifications to the terminal.
	go func() {
		for ev := range session.Toasts.Events() {
			if ev.Type == toast.EventShow {
				fmt.Printf("** %s: %s\n", ev.Toast.Kind, ev.Toast.Text)
			}
		}
	}()

	fmt.Printf("Connected as %s. Commands: /open <conv>, /close, /mute <conv>, /unmute <conv>, /who, /badge, /quit\n", me.DisplayName)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/who":
			online := session.Roster.OnlineFriends(friendIDs)
			fmt.Printf("%d friends online: %s\n", len(online), strings.Join(online, ", "))
		case line == "/badge":
			fmt.Printf("badge: %v, unread: %s\n", session.Notifications.ShowBadge(),
				strings.Join(session.Notifications.UnmutedUnread(), ", "))
		case line == "/close":
			session.CloseConversation()
		case strings.HasPrefix(line, "/open "):
			session.OpenConversation(strings.TrimPrefix(line, "/open "))
		case strings.HasPrefix(line, "/mute "):
			session.Notifications.Mute(strings.TrimPrefix(line, "/mute "))
		case strings.HasPrefix(line, "/unmute "):
			session.Notifications.Unmute(strings.TrimPrefix(line, "/unmute "))
		case line != "":
			active := session.Notifications.ActiveChat()
			if active == "" {
				fmt.Println("open a conversation first: /open <conv>")
				continue
			}
			if err := session.SendMessage(active, line); err != nil {
				fmt.Printf("send failed: %v\n", err)
			}
		}
	}
}
