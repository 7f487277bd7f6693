package push

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"tomodachilink/internal/storage"

	webpush "github.com/SherClockHolmes/webpush-go"
)

// SubscriptionStore persists browser push endpoints.
type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]storage.DBPushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

// Notification is the payload delivered to the service worker when a
// message arrives for an offline user.
type Notification struct {
	Title          string `json:"title"`
	Body           string `json:"body"`
	ConversationID string `json:"conversationId"`
}

// Sender delivers web push notifications to users without an open
// websocket connection. A Sender with empty keys is disabled and all
// sends are no-ops.
type Sender struct {
	store      SubscriptionStore
	publicKey  string
	privateKey string
	contact    string
}

func NewSender(store SubscriptionStore, publicKey, privateKey, contact string) *Sender {
	return &Sender{
		store:      store,
		publicKey:  publicKey,
		privateKey: privateKey,
		contact:    contact,
	}
}

func (s *Sender) Enabled() bool {
	return s.publicKey != "" && s.privateKey != ""
}

// Notify pushes the notification to every endpoint the user has
// registered. Endpoints rejected by the push service are removed.
func (s *Sender) Notify(userID string, n Notification) error {
	if !s.Enabled() {
		return nil
	}

	subs, err := s.store.ListPushSubscriptions(userID)
	if err != nil {
		return fmt.Errorf("failed to load push subscriptions: %w", err)
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				P256dh: sub.P256dh,
				Auth:   sub.Auth,
			},
		}, &webpush.Options{
			Subscriber:      s.contact,
			VAPIDPublicKey:  s.publicKey,
			VAPIDPrivateKey: s.privateKey,
			TTL:             300,
		})
		if err != nil {
			slog.Error("push delivery failed", "user_id", userID, "error", err)
			continue
		}

		// The push service reports dead endpoints with 404/410.
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			if err := s.store.DeletePushSubscription(userID, sub.Endpoint); err != nil {
				slog.Error("failed to drop stale push subscription", "user_id", userID, "error", err)
			}
		}
		_ = resp.Body.Close()
	}

	return nil
}
