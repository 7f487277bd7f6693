package notify

import (
	"testing"
)

func TestState_BadgePredicate(t *testing.T) {
	s := NewState()

	if s.ShowBadge() {
		t.Error("badge should be hidden with no unread conversations")
	}

	// U = {convA, convB}, M = {convB} -> badge visible.
	s.MarkUnread("convA")
	s.MarkUnread("convB")
	s.Mute("convB")

	if !s.ShowBadge() {
		t.Error("badge should show: convA is unread and unmuted")
	}
	if got := s.UnmutedUnread(); len(got) != 1 || got[0] != "convA" {
		t.Errorf("expected [convA], got %v", got)
	}

	// Marking convA read -> U = {convB}, fully muted -> badge hidden.
	s.MarkRead("convA")

	if s.ShowBadge() {
		t.Error("badge should be hidden: the only unread conversation is muted")
	}
	if got := s.UnmutedUnread(); len(got) != 0 {
		t.Errorf("expected no unmuted unread, got %v", got)
	}
	// Mute suppresses the badge, not the unread tracking.
	if !s.IsUnread("convB") {
		t.Error("convB should still be tracked as unread")
	}
}

func TestState_ReadAndMuteAreIndependent(t *testing.T) {
	s := NewState()

	s.MarkUnread("convA")
	s.Mute("convA")

	s.MarkRead("convA")
	if !s.IsMuted("convA") {
		t.Error("MarkRead must not touch the muted set")
	}
	if s.IsUnread("convA") {
		t.Error("MarkRead must clear the unread flag")
	}

	s.MarkUnread("convB")
	s.Mute("convB")
	if !s.IsUnread("convB") {
		t.Error("Mute must not touch the unread set")
	}

	s.Unmute("convB")
	if s.IsMuted("convB") {
		t.Error("Unmute must clear the muted flag")
	}
	if !s.IsUnread("convB") {
		t.Error("Unmute must not touch the unread set")
	}
}

func TestState_ActiveChat(t *testing.T) {
	s := NewState()

	s.MarkUnread("convA")
	s.SetActiveChat("convA")

	if s.ActiveChat() != "convA" {
		t.Errorf("expected active chat convA, got %q", s.ActiveChat())
	}
	if s.IsUnread("convA") {
		t.Error("opening a conversation should mark it read")
	}

	// Messages in the open conversation never become unread.
	s.MarkUnread("convA")
	if s.IsUnread("convA") {
		t.Error("active conversation must not accumulate unread state")
	}

	// Other conversations still do.
	s.MarkUnread("convB")
	if !s.IsUnread("convB") {
		t.Error("convB should be unread")
	}

	s.SetActiveChat("")
	s.MarkUnread("convA")
	if !s.IsUnread("convA") {
		t.Error("convA should accumulate unread state once closed")
	}
}

func TestState_Reset(t *testing.T) {
	s := NewState()

	s.MarkUnread("convA")
	s.Mute("convB")
	s.SetActiveChat("convC")

	s.Reset()

	if s.ShowBadge() {
		t.Error("badge should be hidden after reset")
	}
	if s.IsMuted("convB") {
		t.Error("muted set should be empty after reset")
	}
	if s.ActiveChat() != "" {
		t.Errorf("active chat should be cleared, got %q", s.ActiveChat())
	}
}
