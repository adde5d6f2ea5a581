package coach

import (
	"errors"
	"fmt"
	"testing"

	"github.com/worldwidesoldier/sales-coach-ai/internal/domain"
)

func TestConversationStore_RecentContextBoundsAndOrder(t *testing.T) {
	s := NewConversationStore(nil)
	if err := s.Start("c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for i := 0; i < 20; i++ {
		s.Append("c1", fmt.Sprintf("line %d", i), domain.SpeakerSalesperson)
	}

	got := s.RecentContext("c1", 5)
	if len(got) != 5 {
		t.Fatalf("len = %d, want 5", len(got))
	}
	for i, m := range got {
		want := fmt.Sprintf("line %d", 15+i)
		if m.Text != want {
			t.Errorf("got[%d] = %q, want %q", i, m.Text, want)
		}
	}

	if all := s.RecentContext("c1", 100); len(all) != 20 {
		t.Errorf("len with large max = %d, want 20", len(all))
	}
	if none := s.RecentContext("c1", 0); len(none) != 0 {
		t.Errorf("len with zero max = %d, want 0", len(none))
	}
}

func TestConversationStore_RecentContextIsCopy(t *testing.T) {
	s := NewConversationStore(nil)
	s.Append("c1", "original", domain.SpeakerCustomer)

	got := s.RecentContext("c1", 10)
	got[0].Text = "mutated"

	if again := s.RecentContext("c1", 10); again[0].Text != "original" {
		t.Errorf("store was mutated through returned slice: %q", again[0].Text)
	}
}

func TestConversationStore_UnknownSession(t *testing.T) {
	s := NewConversationStore(nil)
	if got := s.RecentContext("missing", 10); got == nil || len(got) != 0 {
		t.Errorf("RecentContext(missing) = %#v, want empty slice", got)
	}
	if got := s.Full("missing"); len(got) != 0 {
		t.Errorf("Full(missing) = %d messages", len(got))
	}
	s.End("missing")
	s.Clear("missing")
}

func TestConversationStore_AppendAutoCreates(t *testing.T) {
	s := NewConversationStore(nil)
	s.Append("late", "hello there", domain.SpeakerSalesperson)
	if n := s.MessageCount("late"); n != 1 {
		t.Fatalf("MessageCount = %d, want 1", n)
	}
	if ids := s.ActiveSessions(); len(ids) != 1 || ids[0] != "late" {
		t.Errorf("ActiveSessions = %v", ids)
	}
}

func TestConversationStore_StartLifecycle(t *testing.T) {
	s := NewConversationStore(nil)
	if err := s.Start("c1"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Start("c1"); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("second Start = %v, want ErrAlreadyExists", err)
	}

	s.Append("c1", "one", domain.SpeakerSalesperson)
	s.End("c1")
	s.End("c1")

	if n := s.MessageCount("c1"); n != 1 {
		t.Errorf("End dropped messages: count = %d", n)
	}
	if ids := s.ActiveSessions(); len(ids) != 0 {
		t.Errorf("ended session still active: %v", ids)
	}

	if err := s.Start("c1"); err != nil {
		t.Fatalf("Start after End: %v", err)
	}
	if n := s.MessageCount("c1"); n != 0 {
		t.Errorf("restarted conversation has %d messages", n)
	}

	s.Clear("c1")
	s.Clear("c1")
	if n := s.MessageCount("c1"); n != 0 {
		t.Errorf("MessageCount after Clear = %d", n)
	}
}

func TestTurns(t *testing.T) {
	msgs := []Message{
		{Text: "hello", Speaker: domain.SpeakerSalesperson},
		{Text: "who is this", Speaker: domain.SpeakerCustomer},
	}
	turns := Turns(msgs)
	if len(turns) != 2 || turns[1].Speaker != domain.SpeakerCustomer || turns[1].Text != "who is this" {
		t.Errorf("Turns = %+v", turns)
	}
}
