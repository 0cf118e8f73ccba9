package topiclog

import (
	"fmt"
	"testing"
	"time"
)

func drainReplay(t *testing.T, ch <-chan Message, n int) []Entry {
	t.Helper()
	var got []Entry
	for i := 0; i < n; i++ {
		select {
		case msg := <-ch:
			if msg.Entry == nil {
				t.Fatalf("expected entry at position %d, got %+v", i, msg)
			}
			got = append(got, *msg.Entry)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for replay entry %d", i)
		}
	}
	return got
}

func expectReady(t *testing.T, ch <-chan Message, wantHead uint64) {
	t.Helper()
	select {
	case msg := <-ch:
		if msg.Ready == nil {
			t.Fatalf("expected ready marker, got %+v", msg)
		}
		if msg.Ready.Head != wantHead {
			t.Fatalf("ready.Head = %d, want %d", msg.Ready.Head, wantHead)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for ready marker")
	}
}

// TestLogDensity is invariant 7: after k appends, head==k and entries cover
// exactly [max(1,k-BUFFER_SIZE+1), k].
func TestLogDensity(t *testing.T) {
	l := New(10)
	const k = 7
	for i := 0; i < k; i++ {
		l.Append([]byte{byte(i)})
	}

	if l.Head() != k {
		t.Fatalf("head = %d, want %d", l.Head(), k)
	}
	for seq := uint64(1); seq <= k; seq++ {
		if _, ok := l.entries[seq]; !ok {
			t.Errorf("expected entries[%d] to exist", seq)
		}
	}
}

// TestEviction is invariant 9: after BUFFER_SIZE+1 appends, seq=1 is gone
// and seq=BUFFER_SIZE+1 is present.
func TestEviction(t *testing.T) {
	const bufferSize = 5
	l := New(bufferSize)
	for i := 0; i < bufferSize+1; i++ {
		l.Append([]byte{byte(i)})
	}

	if _, ok := l.entries[1]; ok {
		t.Errorf("expected seq=1 to be evicted")
	}
	if _, ok := l.entries[bufferSize+1]; !ok {
		t.Errorf("expected seq=%d to be present", bufferSize+1)
	}
}

// TestSubscribeAfterEviction is scenario S4: BUFFER_SIZE=1000, 1500
// appends, subscribe since=0 yields exactly entries 501..1500 then
// ready{head:1500}.
func TestSubscribeAfterEviction(t *testing.T) {
	l := New(1000)
	for i := 1; i <= 1500; i++ {
		l.Append([]byte(fmt.Sprintf("op-%d", i)))
	}

	ch, unsubscribe := l.Subscribe(0)
	defer unsubscribe()

	got := drainReplay(t, ch, 1000)
	for i, e := range got {
		wantSeq := uint64(501 + i)
		if e.Seq != wantSeq {
			t.Fatalf("replay[%d].Seq = %d, want %d", i, e.Seq, wantSeq)
		}
	}
	expectReady(t, ch, 1500)
}

// TestConcurrentSubscriberAndAppends is scenario S5: subscribing at head=0
// then immediately appending A, B, C must deliver seq 1,2,3 (in order) to
// the subscriber, with ready arriving either before or interleaved
// consistently, and any further appends strictly after ready's seq.
func TestConcurrentSubscriberAndAppends(t *testing.T) {
	l := New(100)

	ch, unsubscribe := l.Subscribe(0)
	defer unsubscribe()

	l.Append([]byte("A"))
	l.Append([]byte("B"))
	l.Append([]byte("C"))

	var entries []Entry
	var ready *ReadyMarker
	for ready == nil {
		select {
		case msg := <-ch:
			if msg.Entry != nil {
				entries = append(entries, *msg.Entry)
			} else {
				ready = msg.Ready
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for messages")
		}
	}

	for i, e := range entries {
		if e.Seq != uint64(i+1) {
			t.Fatalf("entries[%d].Seq = %d, want %d", i, e.Seq, i+1)
		}
	}
	if ready.Head > 3 {
		t.Fatalf("ready.Head = %d, want <= 3", ready.Head)
	}

	// Anything delivered after ready must have seq > ready.Head and be
	// strictly increasing; append one more to confirm.
	l.Append([]byte("D"))
	for want := ready.Head + 1; want <= 4; want++ {
		select {
		case msg := <-ch:
			if msg.Entry == nil || msg.Entry.Seq != want {
				t.Fatalf("post-ready message = %+v, want seq %d", msg, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for post-ready seq %d", want)
		}
	}
}

func TestSubscribeNoReplayWhenCaughtUp(t *testing.T) {
	l := New(10)
	l.Append([]byte("a"))
	l.Append([]byte("b"))

	ch, unsubscribe := l.Subscribe(2)
	defer unsubscribe()

	expectReady(t, ch, 2)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	l := New(10)
	ch, unsubscribe := l.Subscribe(0)
	expectReady(t, ch, 0)

	unsubscribe()

	l.Append([]byte("after-unsubscribe"))

	// Channel should now be closed; reading from it must not block and
	// must not yield the post-unsubscribe append.
	select {
	case msg, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got %+v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func TestSlowSubscriberIsDroppedNotBlocking(t *testing.T) {
	l := New(4)
	ch, _ := l.Subscribe(0)
	expectReady(t, ch, 0)

	// Fill the subscriber's buffer without draining it; once full, further
	// appends must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			l.Append([]byte{byte(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Append blocked on a slow subscriber")
	}
}
