package channel

import (
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"testing"

	"github.com/alfredjeanlab/ailoop/internal/model"
)

func note(ch, text string) *model.Message {
	return model.NewMessage(ch, model.SenderAgent, model.Notification(text, model.PriorityNormal))
}

func texts(r *Registry, ch string, limit int) []string {
	var out []string
	for m := range r.History(ch, limit) {
		out = append(out, m.Content.Text)
	}
	return out
}

func TestEnqueue_CreatesChannelLazily(t *testing.T) {
	r := New(Options{})
	if got := r.Channels(); len(got) != 0 {
		t.Fatalf("Channels() = %v, want empty", got)
	}
	if err := r.Enqueue(note("builds", "hello")); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if got := r.Channels(); !slices.Equal(got, []string{"builds"}) {
		t.Errorf("Channels() = %v, want [builds]", got)
	}
}

func TestEnqueue_RejectsInvalidChannel(t *testing.T) {
	r := New(Options{})
	err := r.Enqueue(note("Not Valid", "x"))
	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if got := r.Channels(); len(got) != 0 {
		t.Errorf("rejected message created channels: %v", got)
	}
}

func TestEnqueue_RejectsDuplicateID(t *testing.T) {
	r := New(Options{})
	m := note("public", "once")
	if err := r.Enqueue(m); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := r.Enqueue(m); err == nil {
		t.Fatal("expected error enqueueing the same message twice")
	}
	if got := texts(r, "public", 0); len(got) != 1 {
		t.Errorf("history = %v, want one entry", got)
	}
}

func TestEnqueue_FIFOBound(t *testing.T) {
	const capacity = 5
	var evicted []string
	r := New(Options{Capacity: capacity, OnEvict: func(m *model.Message) {
		evicted = append(evicted, m.Content.Text)
	}})

	var first *model.Message
	for i := range capacity + 1 {
		m := note("public", fmt.Sprintf("m%d", i))
		if i == 0 {
			first = m
		}
		if err := r.Enqueue(m); err != nil {
			t.Fatalf("Enqueue %d: %v", i, err)
		}
	}

	got := texts(r, "public", 0)
	want := []string{"m1", "m2", "m3", "m4", "m5"}
	if !slices.Equal(got, want) {
		t.Errorf("history = %v, want %v", got, want)
	}
	if !slices.Equal(evicted, []string{"m0"}) {
		t.Errorf("evicted = %v, want [m0]", evicted)
	}
	if _, ok := r.Lookup(first.ID); ok {
		t.Error("evicted message is still found by Lookup")
	}
}

func TestHistory_LimitAndRestart(t *testing.T) {
	r := New(Options{})
	for i := range 4 {
		r.Enqueue(note("public", fmt.Sprintf("m%d", i)))
	}

	seq := r.History("public", 2)
	if got := collect(seq); !slices.Equal(got, []string{"m2", "m3"}) {
		t.Errorf("first range = %v, want [m2 m3]", got)
	}

	// The same sequence reflects new messages on the next range.
	r.Enqueue(note("public", "m4"))
	if got := collect(seq); !slices.Equal(got, []string{"m3", "m4"}) {
		t.Errorf("second range = %v, want [m3 m4]", got)
	}

	if got := collect(r.History("missing", 10)); len(got) != 0 {
		t.Errorf("unknown channel history = %v, want empty", got)
	}
}

func collect(seq iter.Seq[*model.Message]) []string {
	var out []string
	for m := range seq {
		out = append(out, m.Content.Text)
	}
	return out
}

func TestChannelIsolation(t *testing.T) {
	r := New(Options{})
	r.Enqueue(note("alpha", "for-alpha"))
	r.Enqueue(note("beta", "for-beta"))

	if got := texts(r, "alpha", 0); !slices.Equal(got, []string{"for-alpha"}) {
		t.Errorf("alpha history = %v", got)
	}
	if got := texts(r, "beta", 0); !slices.Equal(got, []string{"for-beta"}) {
		t.Errorf("beta history = %v", got)
	}
}

func TestListenersSeeChannelOrder(t *testing.T) {
	r := New(Options{})
	var (
		mu  sync.Mutex
		got []string
	)
	r.Listen(func(m *model.Message) {
		mu.Lock()
		got = append(got, m.Content.Text)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for w := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 50 {
				r.Enqueue(note("public", fmt.Sprintf("w%d-%d", w, i)))
			}
		}()
	}
	wg.Wait()

	// Listener order must equal history order for the channel.
	hist := texts(r, "public", 0)
	if !slices.Equal(hist, got) {
		t.Fatalf("listener order differs from history order (%d vs %d entries)", len(got), len(hist))
	}
}

func TestSubscribeMakesChannelVisible(t *testing.T) {
	r := New(Options{})
	if err := r.Subscribe("watchers", "ws-1"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if got := r.Channels(); !slices.Equal(got, []string{"watchers"}) {
		t.Errorf("Channels() = %v, want [watchers]", got)
	}
	r.Unsubscribe("watchers", "ws-1")
	r.Unsubscribe("watchers", "ws-1") // no-op
	r.Unsubscribe("nowhere", "ws-1")  // no-op
	if got := r.Channels(); len(got) != 0 {
		t.Errorf("Channels() = %v, want empty after unsubscribe", got)
	}
	if err := r.Subscribe("BAD", "ws-1"); err == nil {
		t.Error("expected validation error subscribing to an invalid name")
	}
}

func TestStats(t *testing.T) {
	r := New(Options{Capacity: 10})
	if _, err := r.Stats("public"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("Stats on unknown channel: got %v, want ErrNotFound", err)
	}
	r.Enqueue(note("public", "first"))
	r.Enqueue(note("public", "last"))
	r.Subscribe("public", "ws-1")

	st, err := r.Stats("public")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.MessageCount != 2 || st.Capacity != 10 || st.Subscribers != 1 {
		t.Errorf("unexpected stats: %+v", st)
	}
	if st.Oldest.Content.Text != "first" || st.Newest.Content.Text != "last" {
		t.Errorf("oldest/newest = %q/%q", st.Oldest.Content.Text, st.Newest.Content.Text)
	}
	if r.TotalMessages() != 2 {
		t.Errorf("TotalMessages() = %d, want 2", r.TotalMessages())
	}
}
