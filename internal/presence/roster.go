package presence

import (
	"sync"

	"tomodachilink/internal/models"
)

// Roster holds the latest server-pushed list of online users. Each push
// replaces the previous roster wholesale; entries are never merged or
// individually mutated. The friend list and the roster are fetched
// independently, so transient mismatches between the two are expected
// and resolve on the next push.
type Roster struct {
	online map[string]bool
	mu     sync.RWMutex
}

func NewRoster() *Roster {
	return &Roster{
		online: make(map[string]bool),
	}
}

// Replace swaps the roster for the set of users in the latest push.
func (r *Roster) Replace(members []models.ChatMember) {
	online := make(map[string]bool, len(members))
	for _, m := range members {
		online[m.UserID] = true
	}

	r.mu.Lock()
	r.online = online
	r.mu.Unlock()
}

// Online reports whether the given user appeared in the latest push.
func (r *Roster) Online(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.online[userID]
}

// OnlineFriends returns the intersection of friendIDs with the roster,
// preserving the order of friendIDs.
func (r *Roster) OnlineFriends(friendIDs []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]string, 0, len(friendIDs))
	for _, id := range friendIDs {
		if r.online[id] {
			result = append(result, id)
		}
	}
	return result
}

// OnlineFriendCount answers "N friends online" for a profile card.
func (r *Roster) OnlineFriendCount(friendIDs []string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, id := range friendIDs {
		if r.online[id] {
			count++
		}
	}
	return count
}

// Size returns the number of users in the latest push.
func (r *Roster) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.online)
}

// Reset clears the roster, as on logout.
func (r *Roster) Reset() {
	r.mu.Lock()
	r.online = make(map[string]bool)
	r.mu.Unlock()
}
