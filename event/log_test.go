package event

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ev(seq int64, text string) Event {
	return Event{
		Seq:     seq,
		Type:    TypeTextMessage,
		Content: json.RawMessage(`{"Text":"` + text + `"}`),
	}
}

func seqs(events []Event) []int64 {
	out := make([]int64, len(events))
	for i, e := range events {
		out[i] = e.Seq
	}
	return out
}

func TestMergeFreshestWins(t *testing.T) {
	l := NewLog()
	l.Insert(ev(7, "old"))
	l.Insert(ev(9, "streamed"))

	l.Merge([]Event{ev(5, "first"), ev(7, "new")}, 0)

	want := []Event{ev(5, "first"), ev(7, "new"), ev(9, "streamed")}
	if diff := cmp.Diff(want, l.Events()); diff != "" {
		t.Errorf("merged log mismatch (-want +got):\n%s", diff)
	}
}

func TestMergeReplacesWindow(t *testing.T) {
	l := NewLog(ev(1, "a"), ev(4, "stale"), ev(6, "b"), ev(12, "c"))

	// The batch covers (2, 8]; seq 4 no longer exists on the server.
	l.Merge([]Event{ev(6, "b2"), ev(8, "d")}, 2)

	if diff := cmp.Diff([]int64{1, 6, 8, 12}, seqs(l.Events())); diff != "" {
		t.Errorf("seqs mismatch (-want +got):\n%s", diff)
	}
	got, _ := l.Get(6)
	if got.Text() != "b2" {
		t.Errorf("seq 6: got %q, want %q", got.Text(), "b2")
	}
}

func TestMergeEmptyBatchKeepsLog(t *testing.T) {
	l := NewLog(ev(1, "a"), ev(2, "b"))
	l.Merge(nil, 0)
	if l.Len() != 2 {
		t.Errorf("len: got %d, want 2", l.Len())
	}
}

func TestMergeDeduplicatesBatch(t *testing.T) {
	l := NewLog()
	l.Merge([]Event{ev(3, "x"), ev(1, "y"), ev(3, "z")}, 0)

	if diff := cmp.Diff([]int64{1, 3}, seqs(l.Events())); diff != "" {
		t.Errorf("seqs mismatch (-want +got):\n%s", diff)
	}
	got, _ := l.Get(3)
	if got.Text() != "z" {
		t.Errorf("seq 3: got %q, want %q", got.Text(), "z")
	}
}

func TestInsertOrderAndDuplicates(t *testing.T) {
	l := NewLog()
	for _, seq := range []int64{2, 5, 3, 9, 1} {
		if !l.Insert(ev(seq, "")) {
			t.Errorf("insert %d: expected new event", seq)
		}
	}
	if l.Insert(ev(5, "again")) {
		t.Error("duplicate seq should not be reported as new")
	}
	if diff := cmp.Diff([]int64{1, 2, 3, 5, 9}, seqs(l.Events())); diff != "" {
		t.Errorf("seqs mismatch (-want +got):\n%s", diff)
	}
	got, _ := l.Get(5)
	if got.Text() != "again" {
		t.Errorf("duplicate should refresh stored copy, got %q", got.Text())
	}
	last, _ := l.Last()
	if last.Seq != 9 {
		t.Errorf("last: got %d, want 9", last.Seq)
	}
}

func TestInsertRejectsEphemeral(t *testing.T) {
	l := NewLog()
	typing := Event{Seq: 0, Ephemeral: EphemeralTypingStatus, Content: json.RawMessage(`{"IsTyping":true}`)}
	for i := 0; i < 5; i++ {
		if l.Insert(typing) {
			t.Fatal("ephemeral event was inserted")
		}
	}
	l.Merge([]Event{typing}, 0)
	if l.Len() != 0 {
		t.Errorf("len: got %d, want 0", l.Len())
	}
}

func TestLiveChat(t *testing.T) {
	cases := []struct {
		name  string
		types []Type
		want  bool
	}{
		{"empty", nil, false},
		{"text only", []Type{TypeTextMessage}, false},
		{"new rep", []Type{TypeTextMessage, TypeNewRep, TypeTextMessage}, true},
		{"switch to chat", []Type{TypeSwitchSRSToChat}, true},
		{"ended", []Type{TypeNewRep, TypeTextMessage, TypeConversationEnd}, false},
		{"rejoined", []Type{TypeNewRep, TypeConversationEnd, TypeNewRep}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := NewLog()
			for i, typ := range tc.types {
				l.Insert(Event{Seq: int64(i + 1), Type: typ})
			}
			if got := l.LiveChat(); got != tc.want {
				t.Errorf("live chat: got %v, want %v", got, tc.want)
			}
		})
	}
}
