package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"tomodachilink/internal/auth"
	"tomodachilink/internal/models"
	"tomodachilink/internal/storage"
	"tomodachilink/internal/ws"
)

type testAPI struct {
	api   *API
	hub   *ws.Hub
	store *storage.BboltStorage

	aliceID string
	bobID   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	authService, err := auth.NewAuthService(t.Context(), auth.Config{Secret: "test-secret"}, nil)
	if err != nil {
		t.Fatalf("failed to create auth service: %v", err)
	}

	hub := ws.NewHub(store, nil, nil)

	ta := &testAPI{
		api:   New(authService, hub, nil, store, ""),
		hub:   hub,
		store: store,
	}

	for _, name := range []string{"alice", "bob"} {
		creds, err := authService.AddUser(auth.SignupRequest{
			Username:    name,
			Password:    "password123",
			DisplayName: name,
		})
		if err != nil {
			t.Fatalf("failed to add user %s: %v", name, err)
		}
		hub.AddUser(creds.User)
		if name == "alice" {
			ta.aliceID = creds.User.ID
		} else {
			ta.bobID = creds.User.ID
		}
	}

	return ta
}

// postAs invokes a handler as an already-authenticated user, the way
// RequireAuth would after validating the token.
func postAs(t *testing.T, handler http.HandlerFunc, userID, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req = req.WithContext(context.WithValue(req.Context(), userIDKey, userID))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func (ta *testAPI) befriend(t *testing.T, requesterID, recipientID string) {
	t.Helper()

	body := fmt.Sprintf(`{"userId":%q}`, recipientID)
	if w := postAs(t, ta.api.FriendRequestHandler, requesterID, body); w.Code != http.StatusCreated {
		t.Fatalf("friend request failed: %d %s", w.Code, w.Body.String())
	}
	body = fmt.Sprintf(`{"userId":%q}`, requesterID)
	if w := postAs(t, ta.api.FriendAcceptHandler, recipientID, body); w.Code != http.StatusOK {
		t.Fatalf("friend accept failed: %d %s", w.Code, w.Body.String())
	}
}

func TestFriendAccept_ReAcceptKeepsConversationSeq(t *testing.T) {
	ta := newTestAPI(t)
	convID := ws.DMConversationID(ta.aliceID, ta.bobID)

	ta.befriend(t, ta.aliceID, ta.bobID)

	rec, err := ta.store.GetConversation(convID)
	if err != nil {
		t.Fatalf("conversation not stored after accept: %v", err)
	}
	if rec.LastSeq != -1 {
		t.Fatalf("fresh conversation should have LastSeq -1, got %d", rec.LastSeq)
	}

	for i := 0; i < 6; i++ {
		ta.hub.Dispatch(ta.aliceID, models.ClientEvent{
			Type:           models.ClientEventSend,
			ConversationID: convID,
			Content:        fmt.Sprintf("msg %d", i),
		})
	}
	if rec, err = ta.store.GetConversation(convID); err != nil || rec.LastSeq != 5 {
		t.Fatalf("expected stored LastSeq 5, got %d (err %v)", rec.LastSeq, err)
	}

	// Unfriend, then friend again the other way around. The stored
	// conversation record must survive with its sequence intact.
	body := fmt.Sprintf(`{"userId":%q}`, ta.bobID)
	if w := postAs(t, ta.api.FriendRemoveHandler, ta.aliceID, body); w.Code != http.StatusOK {
		t.Fatalf("friend remove failed: %d %s", w.Code, w.Body.String())
	}
	ta.befriend(t, ta.bobID, ta.aliceID)

	if rec, err = ta.store.GetConversation(convID); err != nil || rec.LastSeq != 5 {
		t.Fatalf("re-accept lost the sequence: LastSeq %d (err %v)", rec.LastSeq, err)
	}

	msgs, err := ta.hub.GetRecentMessages(ta.aliceID, convID, 10)
	if err != nil {
		t.Fatalf("backfill after re-accept failed: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages after re-accept, got %d", len(msgs))
	}

	// New traffic continues the numbering instead of overwriting history.
	ta.hub.Dispatch(ta.bobID, models.ClientEvent{
		Type:           models.ClientEventSend,
		ConversationID: convID,
		Content:        "msg 6",
	})

	restarted := ws.NewHub(ta.store, nil, nil)
	msgs, err = restarted.GetRecentMessages(ta.aliceID, convID, 10)
	if err != nil {
		t.Fatalf("backfill after restart failed: %v", err)
	}
	if len(msgs) != 7 {
		t.Fatalf("expected 7 messages after restart, got %d", len(msgs))
	}
	if msgs[1].Seq != 1 || msgs[1].Content != "msg 1" {
		t.Errorf("persisted message corrupted: %+v", msgs[1])
	}
	if last := msgs[6]; last.Seq != 6 || last.Content != "msg 6" {
		t.Errorf("expected new message at seq 6, got %+v", last)
	}
}

func TestFriendRemove_RetiresConversation(t *testing.T) {
	ta := newTestAPI(t)
	convID := ws.DMConversationID(ta.aliceID, ta.bobID)

	ta.befriend(t, ta.aliceID, ta.bobID)

	ta.hub.Dispatch(ta.aliceID, models.ClientEvent{
		Type:           models.ClientEventSend,
		ConversationID: convID,
		Content:        "hello",
	})

	body := fmt.Sprintf(`{"userId":%q}`, ta.bobID)
	if w := postAs(t, ta.api.FriendRemoveHandler, ta.aliceID, body); w.Code != http.StatusOK {
		t.Fatalf("friend remove failed: %d %s", w.Code, w.Body.String())
	}

	// Ex-friends have no conversation to message through.
	if _, err := ta.hub.GetRecentMessages(ta.aliceID, convID, 10); err == nil {
		t.Error("backfill of a removed conversation should fail")
	}
	if convs := ta.hub.GetConversations(ta.aliceID); len(convs) != 0 {
		t.Errorf("expected no conversations after unfriend, got %+v", convs)
	}
}
