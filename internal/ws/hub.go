package ws

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"tomodachilink/internal/conversation"
	"tomodachilink/internal/models"
	"tomodachilink/internal/push"
	"tomodachilink/internal/storage"
)

const (
	dmHistorySize  = 200
	sendBufferSize = 100
)

// hubStorage is the slice of the storage layer the hub needs.
type hubStorage interface {
	AppendMessage(m models.Message) error
	GetConversation(id string) (models.Conversation, error)
	ListConversations() ([]models.Conversation, error)
	GetMessages(conversationID string, from, to int64) ([]models.Message, error)
}

// renderFunc converts message markdown to sanitized HTML.
type renderFunc func(string) (string, error)

// Hub owns all live per-user send channels and the DM conversations.
// Every connect and disconnect triggers a wholesale roster push
// (a getUsers event) to all connected users.
type Hub struct {
	// Map of conversationID -> Conversation
	conversations map[string]*conversation.Conversation

	// Map of userID -> send channel of the single live connection
	connectedUsers map[string]chan models.ServerEvent

	// All users known to the hub (friend lookups and display names)
	knownUsers map[string]models.User

	store  hubStorage
	pusher *push.Sender
	render renderFunc

	mu sync.RWMutex
}

func NewHub(store hubStorage, pusher *push.Sender, render renderFunc) *Hub {
	h := &Hub{
		conversations:  make(map[string]*conversation.Conversation),
		connectedUsers: make(map[string]chan models.ServerEvent),
		knownUsers:     make(map[string]models.User),
		store:          store,
		pusher:         pusher,
		render:         render,
	}

	if store != nil {
		convs, err := store.ListConversations()
		if err != nil {
			slog.Error("failed to load conversations", "error", err)
			return h
		}
		for _, c := range convs {
			cc := h.createConversation(c.ID, dmHistorySize)
			h.restoreHistory(cc, c.LastSeq)
		}
	}

	return h
}

// restoreHistory loads the tail of a persisted conversation into the
// in-memory ring buffer so backfill survives restarts.
func (h *Hub) restoreHistory(c *conversation.Conversation, lastSeq int64) {
	from := lastSeq - dmHistorySize + 1
	if from < 0 {
		from = 0
	}
	msgs, err := h.store.GetMessages(c.ID, from, lastSeq+1)
	if err != nil {
		slog.Error("failed to restore conversation history", "conversation_id", c.ID, "error", err)
		return
	}
	if len(msgs) > 0 {
		c.ResumeFrom(conversation.Seq(msgs[0].Seq))
	} else {
		c.ResumeFrom(conversation.Seq(lastSeq + 1))
	}
	for _, m := range msgs {
		c.AddRecord(conversation.Record{
			Timestamp: m.Timestamp,
			UserID:    m.UserID,
			Content:   m.Content,
			HTML:      m.HTML,
		})
	}
}

func (h *Hub) createConversation(id string, maxRecords int) *conversation.Conversation {
	c := conversation.New(conversation.Config{
		ID:             id,
		MaxRecords:     maxRecords,
		RecordCallback: h.handleRecordCallback,
	})
	h.conversations[id] = c

	for _, member := range conversationMembers(id) {
		c.Leave(member) // register as offline member
	}

	return c
}

// AddUser makes a user known to the hub.
func (h *Hub) AddUser(user models.User) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.knownUsers[user.ID] = user
}

// AddFriendship creates the DM conversation backing an accepted
// friendship. Idempotent. A re-accepted pair picks its persisted
// history back up so new messages continue the stored numbering.
func (h *Hub) AddFriendship(u1, u2 string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := DMConversationID(u1, u2)
	if _, exists := h.conversations[id]; exists {
		return
	}
	c := h.createConversation(id, dmHistorySize)

	// Restore before marking members online: the backfill must not
	// fan out as fresh messages.
	if h.store != nil {
		if rec, err := h.store.GetConversation(id); err == nil {
			h.restoreHistory(c, rec.LastSeq)
		}
	}

	for _, member := range conversationMembers(id) {
		if _, online := h.connectedUsers[member]; online {
			c.Join(member)
		}
	}
}

// RemoveFriendship retires the DM conversation of an ended friendship:
// no more messages, typing or backfill flow through it. The persisted
// history is kept and restored if the pair re-friends.
func (h *Hub) RemoveFriendship(u1, u2 string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conversations, DMConversationID(u1, u2))
}

// Join registers a live connection for the user and returns its send
// channel. It joins the user's conversations and pushes the updated
// roster to everyone.
func (h *Hub) Join(userID string) chan models.ServerEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	user, ok := h.knownUsers[userID]
	if !ok {
		return nil
	}

	user.Presence = models.Presence{
		Online:   true,
		LastSeen: time.Now().Unix(),
	}
	h.knownUsers[userID] = user

	// One live connection per user. A second connect is rejected
	// rather than hijacking the first one's cleanup.
	if _, ok := h.connectedUsers[userID]; ok {
		return nil
	}

	ch := make(chan models.ServerEvent, sendBufferSize)
	h.connectedUsers[userID] = ch

	for id, c := range h.conversations {
		if isConversationMember(userID, id) {
			c.Join(userID)
		}
	}

	h.broadcastRoster()

	return ch
}

// Leave drops the user's live connection, marks them offline in their
// conversations and pushes the updated roster to everyone. ch names
// the connection being torn down; nil drops whichever connection is
// registered (logoff). A stale teardown whose channel was already
// replaced by a newer connection is a no-op.
func (h *Hub) Leave(userID string, ch chan models.ServerEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	registered, ok := h.connectedUsers[userID]
	if !ok || (ch != nil && registered != ch) {
		return
	}

	if user, ok := h.knownUsers[userID]; ok {
		user.Presence = models.Presence{
			Online:   false,
			LastSeen: time.Now().Unix(),
		}
		h.knownUsers[userID] = user
	}

	close(registered)
	delete(h.connectedUsers, userID)

	for id, c := range h.conversations {
		if isConversationMember(userID, id) {
			c.Leave(userID)
		}
	}

	h.broadcastRoster()
}

// broadcastRoster pushes the full roster to every connected user.
// Callers must hold h.mu.
func (h *Hub) broadcastRoster() {
	roster := make([]models.ChatMember, 0, len(h.connectedUsers))
	for userID := range h.connectedUsers {
		roster = append(roster, models.ChatMember{UserID: userID})
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].UserID < roster[j].UserID
	})

	ev := models.ServerEvent{
		Type:  models.ServerEventGetUsers,
		Users: roster,
	}

	for _, ch := range h.connectedUsers {
		select {
		case ch <- ev:
		default:
			// Slow consumer, it will resync on the next push.
		}
	}
}

// Dispatch routes one client event into the hub.
func (h *Hub) Dispatch(userID string, ev models.ClientEvent) {
	switch ev.Type {
	case models.ClientEventSend:
		h.dispatchMessage(userID, ev)
	case models.ClientEventTyping:
		h.dispatchTyping(userID, ev)
	case models.ClientEventMarkRead:
		// Read state is client-local. Echo so other tabs of the same
		// user clear their badge.
		h.sendToUser(userID, models.ServerEvent{
			Type:           models.ServerEventMarkRead,
			ConversationID: ev.ConversationID,
			UserID:         userID,
		})
	}
}

func (h *Hub) dispatchMessage(userID string, ev models.ClientEvent) {
	h.mu.RLock()
	c, ok := h.conversations[ev.ConversationID]
	h.mu.RUnlock()

	if !ok || !isConversationMember(userID, ev.ConversationID) {
		return
	}

	content := strings.TrimSpace(ev.Content)
	if content == "" {
		return
	}

	html := ""
	if h.render != nil {
		var err error
		if html, err = h.render(content); err != nil {
			slog.Error("failed to render message", "error", err)
			html = ""
		}
	}

	record := c.AddRecord(conversation.Record{
		UserID:    userID,
		Content:   content,
		HTML:      html,
		Timestamp: time.Now().Unix(),
	})

	if h.store != nil {
		if err := h.store.AppendMessage(recordToMessage(c.ID, record)); err != nil {
			slog.Error("failed to persist message", "conversation_id", c.ID, "error", err)
		}
	}

	h.notifyOffline(c, record)
}

// notifyOffline sends a web push to conversation members without a
// live connection.
func (h *Hub) notifyOffline(c *conversation.Conversation, record conversation.Record) {
	if h.pusher == nil || !h.pusher.Enabled() {
		return
	}

	h.mu.RLock()
	sender := h.knownUsers[record.UserID]
	h.mu.RUnlock()

	title := sender.DisplayName
	if title == "" {
		title = "New message"
	}

	for _, userID := range c.OfflineMembers() {
		if err := h.pusher.Notify(userID, push.Notification{
			Title:          title,
			Body:           record.Content,
			ConversationID: c.ID,
		}); err != nil {
			slog.Error("failed to notify offline user", "user_id", userID, "error", err)
		}
	}
}

func (h *Hub) dispatchTyping(userID string, ev models.ClientEvent) {
	if !isConversationMember(userID, ev.ConversationID) {
		return
	}

	h.mu.RLock()
	_, live := h.conversations[ev.ConversationID]
	h.mu.RUnlock()
	if !live {
		return
	}

	out := models.ServerEvent{
		Type:           models.ServerEventTyping,
		ConversationID: ev.ConversationID,
		UserID:         userID,
		Typing:         ev.Typing,
	}

	for _, member := range conversationMembers(ev.ConversationID) {
		if member == userID {
			continue
		}
		h.sendToUser(member, out)
	}
}

func (h *Hub) sendToUser(userID string, ev models.ServerEvent) {
	// Hold the read lock through the send: Leave closes channels under
	// the write lock, so a send cannot race a close.
	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, online := h.connectedUsers[userID]
	if !online {
		return
	}

	select {
	case ch <- ev:
	default:
	}
}

func (h *Hub) handleRecordCallback(receiverID string, conversationID string, record conversation.Record) {
	ev := models.ServerEvent{
		Type:           models.ServerEventNewMessage,
		ConversationID: conversationID,
		Messages:       []models.Message{recordToMessage(conversationID, record)},
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	ch, online := h.connectedUsers[receiverID]
	if !online {
		return
	}

	select {
	case ch <- ev:
	default:
		// Drop for a slow consumer; history backfill covers the gap.
	}
}

// GetConversations lists the conversations the user is a member of,
// annotated with the other party's name and presence.
func (h *Hub) GetConversations(userID string) []models.Conversation {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var result []models.Conversation
	for id, c := range h.conversations {
		if !isConversationMember(userID, id) {
			continue
		}

		otherID := otherMember(userID, id)
		other := h.knownUsers[otherID]
		name := other.DisplayName
		if name == "" {
			name = "Unknown User"
		}

		_, online := h.connectedUsers[otherID]
		result = append(result, models.Conversation{
			ID:      id,
			Name:    name,
			LastSeq: int64(c.LastSeq),
			Online:  online,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})

	return result
}

// GetRecentMessages backfills the tail of a conversation for a member.
func (h *Hub) GetRecentMessages(userID, conversationID string, count int) ([]models.Message, error) {
	if !isConversationMember(userID, conversationID) {
		return nil, models.ErrNotFound
	}

	h.mu.RLock()
	c, ok := h.conversations[conversationID]
	h.mu.RUnlock()
	if !ok {
		return nil, models.ErrNotFound
	}

	records, err := c.GetLastRecords(count)
	if err != nil {
		return nil, err
	}

	result := make([]models.Message, 0, len(records))
	for _, r := range records {
		result = append(result, recordToMessage(conversationID, r))
	}
	return result, nil
}

// OnlineUsers returns the current roster, as pushed in getUsers events.
func (h *Hub) OnlineUsers() []models.ChatMember {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roster := make([]models.ChatMember, 0, len(h.connectedUsers))
	for userID := range h.connectedUsers {
		roster = append(roster, models.ChatMember{UserID: userID})
	}
	sort.Slice(roster, func(i, j int) bool {
		return roster[i].UserID < roster[j].UserID
	})
	return roster
}

// IsOnline reports whether the user has a live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.connectedUsers[userID]
	return ok
}

func (h *Hub) GetUser(id string) (models.User, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	u, ok := h.knownUsers[id]
	return u, ok
}

func recordToMessage(conversationID string, r conversation.Record) models.Message {
	return models.Message{
		Seq:            int64(r.Seq),
		Timestamp:      r.Timestamp,
		ConversationID: conversationID,
		UserID:         r.UserID,
		Content:        r.Content,
		HTML:           r.HTML,
	}
}

// Helpers

// DMConversationID builds the deterministic conversation id for a
// user pair.
func DMConversationID(u1, u2 string) string {
	return "dm|" + storage.PairKey(u1, u2)
}

func conversationMembers(conversationID string) []string {
	rest, ok := strings.CutPrefix(conversationID, "dm|")
	if !ok {
		return nil
	}
	parts := strings.Split(rest, "|")
	if len(parts) != 2 {
		return nil
	}
	return parts
}

func isConversationMember(userID, conversationID string) bool {
	for _, member := range conversationMembers(conversationID) {
		if member == userID {
			return true
		}
	}
	return false
}

func otherMember(userID, conversationID string) string {
	for _, member := range conversationMembers(conversationID) {
		if member != userID {
			return member
		}
	}
	return ""
}
