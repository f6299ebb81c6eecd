package transport

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBusDeliversWithSenderIdentity(t *testing.T) {
	bus := NewBus()
	page := bus.Open("page", "https://client.example")
	frame := bus.Open("frame", "https://chooser.example")

	var got []string
	frame.Listen(func(ev Event) {
		got = append(got, ev.Origin+" "+ev.Data)
		if !SameWindow(ev.Source, page.Ref(frame)) {
			t.Fatalf("source %s is not the page", ev.Source.ID())
		}
		ev.Source.PostMessage("pong", ev.Origin)
	})
	var replies []string
	page.Listen(func(ev Event) { replies = append(replies, ev.Data) })

	if err := frame.Ref(page).PostMessage("ping", "https://chooser.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	// Wrong target origin is dropped silently.
	if err := frame.Ref(page).PostMessage("lost", "https://other.example"); err != nil {
		t.Fatalf("post: %v", err)
	}
	if n := bus.Drain(); n != 2 {
		t.Fatalf("delivered %d, want 2", n)
	}
	if diff := cmp.Diff([]string{"https://client.example ping"}, got); diff != "" {
		t.Fatalf("frame events (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pong"}, replies); diff != "" {
		t.Fatalf("page events (-want +got):\n%s", diff)
	}
}

func TestPostToClosedWindow(t *testing.T) {
	bus := NewBus()
	a := bus.Open("a", "https://a.example")
	b := bus.Open("b", "https://b.example")
	b.Close()
	if err := b.Ref(a).PostMessage("x", AnyOrigin); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if bus.Pending() != 0 {
		t.Fatal("closed window must not queue messages")
	}

	b.Load("https://b.example")
	if err := b.Ref(a).PostMessage("x", AnyOrigin); err != nil {
		t.Fatalf("post after reload: %v", err)
	}
}

func TestMuxRunsHandlersInOrder(t *testing.T) {
	var m Mux
	var order []int
	m.Add(func(Event) { order = append(order, 1) })
	m.Add(func(Event) { order = append(order, 2) })
	m.Handle(Event{Data: "x"})
	if diff := cmp.Diff([]int{1, 2}, order); diff != "" {
		t.Fatalf("order (-want +got):\n%s", diff)
	}
}
