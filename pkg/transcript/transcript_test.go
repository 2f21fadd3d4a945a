package transcript_test

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/tablefinder/tablefinder/pkg/retry"
	"github.com/tablefinder/tablefinder/pkg/transcript"
)

func stores(t *testing.T) map[string]transcript.Store {
	t.Helper()
	b, err := transcript.NewBadger(transcript.BadgerOptions{InMemory: true})
	if err != nil {
		t.Fatalf("NewBadger: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return map[string]transcript.Store{
		"memory": transcript.NewMemory(),
		"badger": b,
	}
}

func TestAppendList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
			for i, o := range []retry.Outcome{retry.OutcomeInvalid, retry.OutcomeValid} {
				err := s.Append(ctx, transcript.Record{
					Session:  "s1",
					Agent:    "restaurant",
					Attempt:  retry.Attempt{N: i + 1, Outcome: o, Prompt: "p", Next: retry.Succeeded},
					Recorded: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Fatal(err)
				}
			}
			if err := s.Append(ctx, transcript.Record{Session: "s0", Recorded: base}); err != nil {
				t.Fatal(err)
			}

			got, err := s.List(ctx, "s1")
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != 2 {
				t.Fatalf("len = %d, want 2", len(got))
			}
			if got[0].Attempt.N != 1 || got[1].Attempt.Outcome != retry.OutcomeValid {
				t.Errorf("records = %+v", got)
			}
			if got[1].Agent != "restaurant" || got[1].Attempt.Next != retry.Succeeded {
				t.Errorf("record = %+v", got[1])
			}
			if !got[0].Recorded.Equal(base) {
				t.Errorf("Recorded = %v", got[0].Recorded)
			}

			sessions, err := s.Sessions(ctx)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(sessions, []string{"s0", "s1"}) {
				t.Errorf("Sessions() = %v", sessions)
			}

			none, err := s.List(ctx, "nope")
			if err != nil || len(none) != 0 {
				t.Errorf("List(nope) = %v, %v", none, err)
			}
		})
	}
}

func TestAppendEmptySession(t *testing.T) {
	for name, s := range stores(t) {
		if err := s.Append(context.Background(), transcript.Record{}); err != transcript.ErrInvalidSession {
			t.Errorf("%s: err = %v", name, err)
		}
	}
}

func TestListDoesNotLeakNestedSessions(t *testing.T) {
	for name, s := range stores(t) {
		ctx := context.Background()
		s.Append(ctx, transcript.Record{Session: "a", Recorded: time.Now()})
		s.Append(ctx, transcript.Record{Session: "a/b", Recorded: time.Now()})
		got, err := s.List(ctx, "a")
		if err != nil || len(got) != 1 {
			t.Errorf("%s: List(a) = %d records, %v", name, len(got), err)
		}
	}
}

func TestRecorder(t *testing.T) {
	s := transcript.NewMemory()
	obs := transcript.Recorder(s, "graph")
	obs("sess", retry.Attempt{N: 1, Outcome: retry.OutcomeNoResponse})
	obs("", retry.Attempt{N: 1})

	got, _ := s.List(context.Background(), "sess")
	if len(got) != 1 || got[0].Agent != "graph" || got[0].Attempt.Outcome != retry.OutcomeNoResponse {
		t.Errorf("records = %+v", got)
	}
	if got[0].Recorded.IsZero() {
		t.Error("Recorded not set")
	}
	sessions, _ := s.Sessions(context.Background())
	if len(sessions) != 1 {
		t.Errorf("sessions = %v", sessions)
	}
}

func TestBadgerOnDisk(t *testing.T) {
	dir := t.TempDir()
	b, err := transcript.NewBadger(transcript.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := b.Append(ctx, transcript.Record{Session: "x", Recorded: time.Now()}); err != nil {
		t.Fatal(err)
	}
	b.Close()

	b, err = transcript.NewBadger(transcript.BadgerOptions{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()
	got, err := b.List(ctx, "x")
	if err != nil || len(got) != 1 {
		t.Errorf("List after reopen = %d, %v", len(got), err)
	}

	if _, err := transcript.NewBadger(transcript.BadgerOptions{}); err == nil {
		t.Error("expected error without Dir")
	}
}
