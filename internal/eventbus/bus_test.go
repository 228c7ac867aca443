package eventbus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentworld/core/internal/worldmodel"
)

func TestEmitDeliversToHandler(t *testing.T) {
	b := New("w1")
	defer b.Close()

	got := make(chan any, 1)
	b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) { got <- e })

	b.Emit(context.Background(), worldmodel.ChannelMessage, "hello")

	select {
	case e := <-got:
		if e.(string) != "hello" {
			t.Fatalf("got %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestEmitPreservesFIFOOrderPerChannel(t *testing.T) {
	b := New("w1")
	defer b.Close()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})

	b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) {
		mu.Lock()
		order = append(order, e.(int))
		n := len(order)
		mu.Unlock()
		if n == 10 {
			close(done)
		}
	})

	for i := 0; i < 10; i++ {
		b.Emit(context.Background(), worldmodel.ChannelMessage, i)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for all events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("order broken at %d: got %v", i, order)
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New("w1")
	defer b.Close()

	got := make(chan any, 4)
	unsub := b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) { got <- e })
	unsub()

	b.Emit(context.Background(), worldmodel.ChannelMessage, "after-unsubscribe")

	select {
	case e := <-got:
		t.Fatalf("expected no delivery after unsubscribe, got %v", e)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHandlerPanicIsolatedFromSiblings(t *testing.T) {
	b := New("w1")
	defer b.Close()

	got := make(chan any, 1)
	b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) { panic("boom") })
	b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) { got <- e })

	b.Emit(context.Background(), worldmodel.ChannelMessage, "survives")

	select {
	case e := <-got:
		if e.(string) != "survives" {
			t.Fatalf("got %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("panicking handler blocked its sibling")
	}
}

func TestChannelsAreIndependent(t *testing.T) {
	b := New("w1")
	defer b.Close()

	msgCh := make(chan any, 1)
	sseCh := make(chan any, 1)
	b.On(worldmodel.ChannelMessage, func(_ context.Context, e any) { msgCh <- e })
	b.On(worldmodel.ChannelSSE, func(_ context.Context, e any) { sseCh <- e })

	b.Emit(context.Background(), worldmodel.ChannelSSE, "sse-only")

	select {
	case <-msgCh:
		t.Fatal("message channel handler should not see sse events")
	case e := <-sseCh:
		if e.(string) != "sse-only" {
			t.Fatalf("got %v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sse delivery")
	}
}
