package presence

import (
	"testing"

	"tomodachilink/internal/models"
)

func members(ids ...string) []models.ChatMember {
	result := make([]models.ChatMember, 0, len(ids))
	for _, id := range ids {
		result = append(result, models.ChatMember{UserID: id})
	}
	return result
}

func TestRoster_OnlineFriends(t *testing.T) {
	r := NewRoster()
	r.Replace(members("u2", "u4"))

	friends := []string{"u1", "u2", "u3"}

	online := r.OnlineFriends(friends)
	if len(online) != 1 || online[0] != "u2" {
		t.Errorf("expected [u2], got %v", online)
	}
	if count := r.OnlineFriendCount(friends); count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	if !r.Online("u4") {
		t.Error("u4 should be online")
	}
	if r.Online("u1") {
		t.Error("u1 should not be online")
	}
}

func TestRoster_PreservesFriendOrder(t *testing.T) {
	r := NewRoster()
	r.Replace(members("c", "a", "b"))

	online := r.OnlineFriends([]string{"b", "c", "a"})
	expected := []string{"b", "c", "a"}
	if len(online) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, online)
	}
	for i := range expected {
		if online[i] != expected[i] {
			t.Errorf("index %d: expected %s, got %s", i, expected[i], online[i])
		}
	}
}

func TestRoster_ReplaceIsWholesale(t *testing.T) {
	r := NewRoster()
	r.Replace(members("u1", "u2"))
	r.Replace(members("u3"))

	if r.Online("u1") || r.Online("u2") {
		t.Error("previous roster entries survived a replace")
	}
	if !r.Online("u3") {
		t.Error("u3 should be online")
	}
	if r.Size() != 1 {
		t.Errorf("expected size 1, got %d", r.Size())
	}
}

func TestRoster_EmptyAndReset(t *testing.T) {
	r := NewRoster()

	if count := r.OnlineFriendCount([]string{"u1", "u2"}); count != 0 {
		t.Errorf("expected count 0 for empty roster, got %d", count)
	}

	r.Replace(members("u1"))
	r.Reset()

	if r.Size() != 0 {
		t.Errorf("expected empty roster after reset, got size %d", r.Size())
	}
	if online := r.OnlineFriends([]string{"u1"}); len(online) != 0 {
		t.Errorf("expected no online friends after reset, got %v", online)
	}
}

func TestRoster_DuplicateFriendIDs(t *testing.T) {
	r := NewRoster()
	r.Replace(members("u1"))

	// A duplicated friend id counts twice; deduplication is the
	// friend list owner's job.
	online := r.OnlineFriends([]string{"u1", "u1"})
	if len(online) != 2 {
		t.Errorf("expected 2 entries for duplicated friend id, got %v", online)
	}
}
