package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chatpilot/internal/bus"
)

func TestPoolFIFOAndSingleWorkerPerChat(t *testing.T) {
	var (
		mu      sync.Mutex
		order   = map[string][]string{}
		active  = map[string]*atomic.Int32{"discord:a": {}, "discord:b": {}}
		overlap atomic.Bool
	)

	p := NewPool(context.Background(), func(_ context.Context, d *Dispatcher, msg bus.InboundMessage) {
		n := active[d.Key()].Add(1)
		if n > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		order[d.Key()] = append(order[d.Key()], msg.Content)
		mu.Unlock()
		active[d.Key()].Add(-1)
	})

	const perChat = 50
	var wg sync.WaitGroup
	for _, chat := range []string{"a", "b"} {
		wg.Add(1)
		go func(chat string) {
			defer wg.Done()
			for i := 0; i < perChat; i++ {
				if err := p.Enqueue("discord:"+chat, msgFrom("u", chat, strconv.Itoa(i))); err != nil {
					t.Errorf("Enqueue: %v", err)
				}
			}
		}(chat)
	}
	wg.Wait()

	p.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	if overlap.Load() {
		t.Error("two workers processed the same chat concurrently")
	}
	for _, chat := range []string{"discord:a", "discord:b"} {
		got := order[chat]
		if len(got) != perChat {
			t.Fatalf("%s processed %d, want %d", chat, len(got), perChat)
		}
		for i, c := range got {
			if c != strconv.Itoa(i) {
				t.Fatalf("%s out of order at %d: %v", chat, i, got)
			}
		}
	}
}

func TestPoolChatsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan string, 2)

	p := NewPool(context.Background(), func(_ context.Context, d *Dispatcher, _ bus.InboundMessage) {
		started <- d.Key()
		<-release
	})
	p.Enqueue("discord:a", msgFrom("u", "a", "x"))
	p.Enqueue("discord:b", msgFrom("u", "b", "y"))

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("second chat blocked behind the first")
		}
	}
	if st := p.Stats(); st.Busy != 2 || st.Chats != 2 {
		t.Errorf("Stats = %+v", st)
	}
	close(release)
	p.Close()
	p.Wait(context.Background())
}

func TestPoolSecondTurnWaitsForFirst(t *testing.T) {
	release := make(chan struct{})
	var firstDone, secondStarted atomic.Bool
	var violated atomic.Bool

	p := NewPool(context.Background(), func(_ context.Context, _ *Dispatcher, msg bus.InboundMessage) {
		if msg.Content == "m1" {
			<-release
			firstDone.Store(true)
			return
		}
		secondStarted.Store(true)
		if !firstDone.Load() {
			violated.Store(true)
		}
	})
	p.Enqueue("discord:c", msgFrom("u1", "c", "m1"))
	p.Enqueue("discord:c", msgFrom("u2", "c", "m2"))

	time.Sleep(20 * time.Millisecond)
	if secondStarted.Load() {
		t.Fatal("M2 started before M1 completed")
	}
	if d := p.Get("discord:c"); d == nil || d.Len() != 1 || !d.Busy() {
		t.Errorf("expected one queued message behind a busy worker")
	}
	close(release)
	p.Close()
	p.Wait(context.Background())
	if violated.Load() || !secondStarted.Load() {
		t.Errorf("violated=%v secondStarted=%v", violated.Load(), secondStarted.Load())
	}
}

func TestPoolPanicDoesNotStopDrain(t *testing.T) {
	var processed atomic.Int32
	var panics atomic.Int32

	p := NewPool(context.Background(), func(_ context.Context, _ *Dispatcher, msg bus.InboundMessage) {
		if msg.Content == "bad" {
			panic("boom")
		}
		processed.Add(1)
	})
	p.OnPanic(func(string, bus.InboundMessage, error) { panics.Add(1) })

	p.Enqueue("discord:c", msgFrom("u", "c", "bad"))
	p.Enqueue("discord:c", msgFrom("u", "c", "good"))
	p.Close()
	p.Wait(context.Background())

	if panics.Load() != 1 || processed.Load() != 1 {
		t.Errorf("panics=%d processed=%d, want 1 and 1", panics.Load(), processed.Load())
	}
}

func TestPoolClosedRejects(t *testing.T) {
	p := NewPool(context.Background(), func(context.Context, *Dispatcher, bus.InboundMessage) {})
	p.Close()
	if err := p.Enqueue("discord:c", msgFrom("u", "c", "x")); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrEngineClosed", err)
	}
}
