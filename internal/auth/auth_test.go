package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"tomodachilink/internal/models"
)

func TestAuthService(t *testing.T) {
	const t0Unix = 1700000000

	// Helper to create service with fixed time
	createService := func(t *testing.T) (*AuthService, *time.Time) {
		cfg := Config{
			Secret:      "server-secret",
			TokenExpiry: time.Hour,
		}

		svc, err := NewAuthService(context.Background(), cfg, nil)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		// Mock time
		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	addUser := func(t *testing.T, svc *AuthService, name, pass string) UserCredentials {
		t.Helper()
		creds, err := svc.AddUser(SignupRequest{Username: name, Password: pass})
		if err != nil {
			t.Fatalf("failed to setup user: %v", err)
		}
		return creds
	}

	t.Run("AddUser", func(t *testing.T) {
		svc, _ := createService(t)

		u1, err := svc.AddUser(SignupRequest{Username: "user1", Password: "pass1"})
		if err != nil {
			t.Fatalf("Failed to add user: %v", err)
		}
		if u1.UserName != "user1" {
			t.Errorf("Expected username user1, got %s", u1.UserName)
		}
		if u1.ID == "" {
			t.Error("Expected user ID to be assigned")
		}
		if u1.DisplayName != "user1" {
			t.Errorf("Expected display name to default to username, got %s", u1.DisplayName)
		}
		if u1.PasswordHash == "pass1" || u1.PasswordHash == "" {
			t.Error("Password not hashed")
		}

		_, err = svc.AddUser(SignupRequest{Username: "user1", Password: "pass2"})
		if !errors.Is(err, ErrUserExists) {
			t.Errorf("Expected ErrUserExists, got %v", err)
		}
	})

	t.Run("Login_Success", func(t *testing.T) {
		svc, _ := createService(t)
		creds := addUser(t, svc, "user1", "pass1")

		resp, userID := svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Expected success, got message %q", resp.Message)
		}
		if resp.Token == "" {
			t.Error("Expected a token")
		}
		if userID != creds.ID {
			t.Errorf("Expected user ID %s, got %s", creds.ID, userID)
		}
		if resp.TokenExpiry != t0Unix+3600 {
			t.Errorf("Unexpected token expiry %d", resp.TokenExpiry)
		}
	})

	t.Run("Login_WrongCredentials", func(t *testing.T) {
		svc, _ := createService(t)
		addUser(t, svc, "user1", "pass1")

		resp, userID := svc.Login(LoginRequest{Username: "user1", Password: "wrong"})
		if resp.Success || userID != "" {
			t.Error("Expected login to fail for wrong password")
		}
		if resp.Message != loginFailedMessage {
			t.Errorf("Unexpected message %q", resp.Message)
		}

		// Unknown user fails with the same message, no enumeration.
		resp, _ = svc.Login(LoginRequest{Username: "nobody", Password: "pass1"})
		if resp.Success || resp.Message != loginFailedMessage {
			t.Errorf("Unexpected response for unknown user: %+v", resp)
		}
	})

	t.Run("Login_Throttle", func(t *testing.T) {
		svc, currentTime := createService(t)
		addUser(t, svc, "user1", "pass1")

		for i := 0; i < 4; i++ {
			svc.Login(LoginRequest{Username: "user1", Password: "wrong"})
		}

		// Over the threshold even the right password is held back.
		resp, _ := svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if resp.Success {
			t.Fatal("Expected throttle to block the login")
		}
		if resp.Message == loginFailedMessage {
			t.Error("Expected a throttle message, got the generic failure")
		}

		// Backoff for 4 failed attempts is 30*4*4 seconds.
		*currentTime = currentTime.Add(30*16*time.Second + time.Second)

		resp, _ = svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if !resp.Success {
			t.Fatalf("Expected login after backoff, got %q", resp.Message)
		}

		// Success resets the counter.
		resp, _ = svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if !resp.Success {
			t.Errorf("Expected immediate re-login, got %q", resp.Message)
		}
	})

	t.Run("GetUserID", func(t *testing.T) {
		svc, currentTime := createService(t)
		creds := addUser(t, svc, "user1", "pass1")

		resp, _ := svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if !resp.Success {
			t.Fatal("login failed")
		}

		userID, err := svc.GetUserID(resp.Token)
		if err != nil {
			t.Fatalf("GetUserID failed: %v", err)
		}
		if userID != creds.ID {
			t.Errorf("Expected %s, got %s", creds.ID, userID)
		}

		if _, err := svc.GetUserID("garbage"); err == nil {
			t.Error("Expected error for a malformed token")
		}

		// A fresh service with the same secret validates the JWT itself.
		svc2, _ := createService(t)
		if _, err := svc2.GetUserID(resp.Token); err != nil {
			t.Errorf("Expected token re-admission, got %v", err)
		}

		// Expired tokens are rejected on the slow path.
		svc3, _ := createService(t)
		svc3.now = func() time.Time { return currentTime.Add(2 * time.Hour) }
		if _, err := svc3.GetUserID(resp.Token); err == nil {
			t.Error("Expected error for an expired token")
		}
	})

	t.Run("Logoff", func(t *testing.T) {
		svc, _ := createService(t)
		addUser(t, svc, "user1", "pass1")

		resp, _ := svc.Login(LoginRequest{Username: "user1", Password: "pass1"})
		if !resp.Success {
			t.Fatal("login failed")
		}

		if err := svc.Logoff(resp.Token); err != nil {
			t.Fatalf("Logoff failed: %v", err)
		}

		if _, err := svc.GetUserID(resp.Token); !errors.Is(err, ErrTokenRevoked) {
			t.Errorf("Expected ErrTokenRevoked, got %v", err)
		}
	})

	t.Run("GetUser_ListUsers", func(t *testing.T) {
		svc, _ := createService(t)
		u1 := addUser(t, svc, "user1", "pass1")
		addUser(t, svc, "user2", "pass2")

		user, err := svc.GetUser(u1.ID)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if user.UserName != "user1" {
			t.Errorf("Expected user1, got %s", user.UserName)
		}

		if _, err := svc.GetUser("no-such-id"); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}

		users := svc.ListUsers()
		if len(users) != 2 {
			t.Errorf("Expected 2 users, got %d", len(users))
		}
	})

	t.Run("UpdateUser", func(t *testing.T) {
		svc, _ := createService(t)
		u1 := addUser(t, svc, "user1", "pass1")

		updated, err := svc.UpdateUser(u1.ID, func(u *models.User) {
			u.DisplayName = "User One"
		})
		if err != nil {
			t.Fatalf("UpdateUser failed: %v", err)
		}
		if updated.DisplayName != "User One" {
			t.Errorf("Update not applied: %+v", updated)
		}

		user, err := svc.GetUser(u1.ID)
		if err != nil || user.DisplayName != "User One" {
			t.Errorf("Update not visible through GetUser: %+v (%v)", user, err)
		}

		if _, err := svc.UpdateUser("no-such-id", func(u *models.User) {}); !errors.Is(err, models.ErrNotFound) {
			t.Errorf("Expected ErrNotFound, got %v", err)
		}
	})
}
