package reconnect

import (
	"errors"
	"slices"
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff()
	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
	}
	for i, w := range want {
		d, ok := b.Next()
		if !ok || d != w {
			t.Fatalf("attempt %d: got (%v, %v), want (%v, true)", i+1, d, ok, w)
		}
	}
	if _, ok := b.Next(); ok {
		t.Error("expected no attempts left after MaxAttempts")
	}
	if !b.Exhausted() {
		t.Error("Exhausted() = false")
	}
	b.Reset()
	if d, ok := b.Next(); !ok || d != 100*time.Millisecond {
		t.Errorf("after Reset: got (%v, %v)", d, ok)
	}
}

func TestBackoff_Cap(t *testing.T) {
	b := &Backoff{Base: time.Second, MaxDelay: 3 * time.Second}
	var got []time.Duration
	for range 4 {
		d, ok := b.Next()
		if !ok {
			t.Fatal("unlimited backoff ran out")
		}
		got = append(got, d)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}
	if !slices.Equal(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBackoff_IndependentState(t *testing.T) {
	a, b := NewBackoff(), NewBackoff()
	a.Next()
	a.Next()
	if d, _ := b.Next(); d != DefaultBase {
		t.Errorf("second backoff started at %v, want %v", d, DefaultBase)
	}
}

func TestBuffer_ReplaysInOrder(t *testing.T) {
	buf := NewBuffer[int](10, nil)
	for i := range 5 {
		buf.Push(i)
	}
	var got []int
	n, err := buf.Drain(func(v int) error {
		got = append(got, v)
		return nil
	})
	if err != nil || n != 5 {
		t.Fatalf("Drain = (%d, %v)", n, err)
	}
	if !slices.Equal(got, []int{0, 1, 2, 3, 4}) {
		t.Errorf("replayed %v", got)
	}
	if buf.Len() != 0 {
		t.Errorf("Len() = %d after drain", buf.Len())
	}
}

func TestBuffer_DropsOldest(t *testing.T) {
	buf := NewBuffer[int](3, nil)
	for i := range 5 {
		buf.Push(i)
	}
	if buf.Dropped() != 2 {
		t.Errorf("Dropped() = %d, want 2", buf.Dropped())
	}
	var got []int
	buf.Drain(func(v int) error { got = append(got, v); return nil })
	if !slices.Equal(got, []int{2, 3, 4}) {
		t.Errorf("replayed %v, want [2 3 4]", got)
	}
}

func TestBuffer_KeepsUnsentSuffix(t *testing.T) {
	buf := NewBuffer[string](10, nil)
	for _, s := range []string{"a", "b", "c"} {
		buf.Push(s)
	}
	errDown := errors.New("down again")
	n, err := buf.Drain(func(s string) error {
		if s == "b" {
			return errDown
		}
		return nil
	})
	if n != 1 || !errors.Is(err, errDown) {
		t.Fatalf("Drain = (%d, %v)", n, err)
	}
	var rest []string
	buf.Drain(func(s string) error { rest = append(rest, s); return nil })
	if !slices.Equal(rest, []string{"b", "c"}) {
		t.Errorf("remaining %v, want [b c]", rest)
	}
}

// drainBlocked starts a Drain whose first send waits for release and
// returns once that send is in flight, plus the Drain results.
func drainBlocked(buf *Buffer[int], release <-chan struct{}) (<-chan []int, <-chan int) {
	inFlight := make(chan struct{})
	sentCh := make(chan []int, 1)
	nCh := make(chan int, 1)
	go func() {
		var sent []int
		n, _ := buf.Drain(func(v int) error {
			if len(sent) == 0 {
				close(inFlight)
				<-release
			}
			sent = append(sent, v)
			return nil
		})
		sentCh <- sent
		nCh <- n
	}()
	<-inFlight
	return sentCh, nCh
}

func TestBuffer_PushDoesNotWaitForSend(t *testing.T) {
	buf := NewBuffer[int](10, nil)
	buf.Push(1)
	release := make(chan struct{})
	sentCh, nCh := drainBlocked(buf, release)

	pushed := make(chan struct{})
	go func() {
		buf.Push(2)
		close(pushed)
	}()
	select {
	case <-pushed:
	case <-time.After(time.Second):
		close(release)
		t.Fatal("Push blocked while a send was in flight")
	}

	close(release)
	if sent := <-sentCh; !slices.Equal(sent, []int{1, 2}) {
		t.Errorf("sent %v, want [1 2]", sent)
	}
	if n := <-nCh; n != 2 || buf.Len() != 0 {
		t.Errorf("Drain = %d, Len() = %d", n, buf.Len())
	}
}

func TestBuffer_EvictionDuringSendKeepsNewPayload(t *testing.T) {
	buf := NewBuffer[int](1, nil)
	buf.Push(1)
	release := make(chan struct{})
	sentCh, _ := drainBlocked(buf, release)

	buf.Push(2) // evicts 1 while it is being sent
	close(release)

	if sent := <-sentCh; !slices.Equal(sent, []int{1, 2}) {
		t.Errorf("sent %v, want [1 2]", sent)
	}
	if buf.Len() != 0 || buf.Dropped() != 1 {
		t.Errorf("Len() = %d, Dropped() = %d", buf.Len(), buf.Dropped())
	}
}
