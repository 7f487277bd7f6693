package notify

import (
	"sort"
	"sync"
)

// State tracks which conversations have unread messages and which are
// muted, plus the conversation currently open in the chat UI. Muting a
// conversation suppresses its badge but not the underlying unread
// tracking: the badge predicate is computed as a set difference on
// every call, never stored. All state is in-memory and session-scoped.
type State struct {
	unread     map[string]bool
	muted      map[string]bool
	activeChat string
	mu         sync.RWMutex
}

func NewState() *State {
	return &State{
		unread: make(map[string]bool),
		muted:  make(map[string]bool),
	}
}

// MarkUnread records an incoming message for a conversation. Messages
// arriving in the currently open conversation are considered read
// immediately.
func (s *State) MarkUnread(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if conversationID == s.activeChat {
		return
	}
	s.unread[conversationID] = true
}

// MarkRead clears the unread flag. The muted set is unaffected.
func (s *State) MarkRead(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.unread, conversationID)
}

// Mute suppresses the badge for a conversation. The unread set is
// unaffected.
func (s *State) Mute(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted[conversationID] = true
}

func (s *State) Unmute(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.muted, conversationID)
}

func (s *State) IsMuted(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.muted[conversationID]
}

func (s *State) IsUnread(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}

// SetActiveChat opens a conversation in the chat UI and marks it read.
// An empty id means no conversation is open.
func (s *State) SetActiveChat(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activeChat = conversationID
	if conversationID != "" {
		delete(s.unread, conversationID)
	}
}

func (s *State) ActiveChat() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeChat
}

// UnmutedUnread returns the unread conversations that are not muted,
// sorted for deterministic output.
func (s *State) UnmutedUnread() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []string
	for id := range s.unread {
		if !s.muted[id] {
			result = append(result, id)
		}
	}
	sort.Strings(result)
	return result
}

// ShowBadge reports whether the unread badge should be visible:
// true iff at least one unread conversation is not muted.
func (s *State) ShowBadge() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for id := range s.unread {
		if !s.muted[id] {
			return true
		}
	}
	return false
}

// Reset clears all state, as on logout.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.unread = make(map[string]bool)
	s.muted = make(map[string]bool)
	s.activeChat = ""
}
