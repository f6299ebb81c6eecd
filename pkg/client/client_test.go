package client

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/go-cmp/cmp"

	"github.com/rexliu/acrpc/pkg/account"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
)

const (
	clientHost   = "client.example"
	clientOrigin = "https://" + clientHost
)

type fakePopup struct {
	transport.Window
	ep        *transport.Endpoint
	navigated []string
}

func (p *fakePopup) Closed() bool { return p.ep.Closed() }

func (p *fakePopup) Close() error {
	p.ep.Close()
	return nil
}

func (p *fakePopup) Navigate(url string) error {
	p.navigated = append(p.navigated, url)
	return nil
}

// browser wires a client page to fake chooser windows on one bus.
type browser struct {
	bus      *transport.Bus
	page     *transport.Endpoint
	frame    *transport.Endpoint
	popup    *fakePopup
	frameURL string
	opened   int
	received []rpc.Object
	visited  []string
}

func newBrowser(t *testing.T) *browser {
	t.Helper()
	bus := transport.NewBus()
	return &browser{bus: bus, page: bus.Open("client", clientOrigin)}
}

func (b *browser) record(ep *transport.Endpoint) {
	ep.Listen(func(ev transport.Event) {
		obj, err := rpc.Parse(ev.Data, rpc.KindStore, rpc.KindSelect, rpc.KindQuery, rpc.KindClientReady)
		if err == nil && obj != nil {
			b.received = append(b.received, obj)
		}
	})
}

func (b *browser) LoadFrame(_ context.Context, url string) (transport.Window, error) {
	b.frameURL = url
	b.frame = b.bus.Open("frame", DefaultDomain)
	b.record(b.frame)
	return b.frame.Ref(b.page), nil
}

func (b *browser) OpenPopup(_ context.Context, url string, width, height int, name string) (Popup, error) {
	if url != DefaultDomain+DefaultPopupPath || width != DefaultPopupWidth || height != DefaultPopupHeight || name != DefaultPopupName {
		return nil, errors.New("unexpected popup " + url)
	}
	b.opened++
	ep := b.bus.Open("popup", DefaultDomain)
	b.record(ep)
	b.popup = &fakePopup{Window: ep.Ref(b.page), ep: ep}
	return b.popup, nil
}

func (b *browser) Navigate(_ context.Context, url string) error {
	b.visited = append(b.visited, url)
	return nil
}

// post sends obj from the window ep to the client page.
func (b *browser) post(t *testing.T, ep *transport.Endpoint, obj rpc.Object, token string) {
	t.Helper()
	if err := rpc.Call(b.page.Ref(ep), obj, clientOrigin, token); err != nil {
		t.Fatalf("post: %v", err)
	}
	b.bus.Drain()
}

func newClient(t *testing.T, b *browser, popup bool, handler Handler) *Client {
	t.Helper()
	c, err := New(Options{
		PopupMode: popup,
		Host:      clientHost,
		Opener:    b,
		Navigator: b,
		Handler:   handler,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	b.page.Listen(c.Handle)
	return c
}

func selectRequest() *rpc.SelectRequest {
	return rpc.NewSelectRequest(rpc.MethodSelect, nil, map[string]any{"clientCallbackUrl": clientOrigin + "/cb"})
}

func TestRedirectModeQueuesUntilFrameLoads(t *testing.T) {
	ctx := context.Background()
	b := newBrowser(t)
	c := newClient(t, b, false, func(rpc.Object) {})

	token := c.Token()
	if token == "" || b.frameURL != DefaultDomain+DefaultIFramePath+"#"+token {
		t.Fatalf("unexpected frame url %q for token %q", b.frameURL, token)
	}
	if err := c.Call(ctx, selectRequest()); err != nil {
		t.Fatalf("call: %v", err)
	}
	b.bus.Drain()
	if c.Pending() != 1 || len(b.received) != 0 {
		t.Fatalf("request should wait for the frame, pending=%d received=%d", c.Pending(), len(b.received))
	}

	if err := c.FrameLoaded(); err != nil {
		t.Fatalf("frame loaded: %v", err)
	}
	b.bus.Drain()
	if len(b.received) != 2 {
		t.Fatalf("expected ready and request, got %d", len(b.received))
	}
	if _, ok := b.received[0].(*rpc.ClientReadyNotification); !ok {
		t.Fatalf("first message should be ClientReady, got %T", b.received[0])
	}
	for _, obj := range b.received {
		if obj.Metadata().RPCToken != token {
			t.Fatalf("%T carries token %q, want %q", obj, obj.Metadata().RPCToken, token)
		}
	}
	if c.Pending() != 0 {
		t.Fatalf("queue not flushed")
	}
}

func TestRequestAckNavigatesToChooser(t *testing.T) {
	b := newBrowser(t)
	c := newClient(t, b, false, func(rpc.Object) {})

	b.post(t, b.frame, rpc.NewRequestAckNotification(rpc.MethodSelect), c.Token())
	want := []string{DefaultDomain + DefaultRedirectPath + "#" + clientHost}
	if diff := cmp.Diff(want, b.visited); diff != "" {
		t.Fatalf("navigation mismatch (-want +got):\n%s", diff)
	}
}

func TestMessagesFromOtherOriginsAreDropped(t *testing.T) {
	b := newBrowser(t)
	var got []rpc.Object
	c := newClient(t, b, false, func(obj rpc.Object) { got = append(got, obj) })

	evil := b.bus.Open("evil", "https://evil.example")
	b.post(t, evil, rpc.NewDoneResponse("select", true), c.Token())
	b.post(t, b.frame, rpc.NewEmptyResponseNotification(), c.Token())
	if len(got) != 1 {
		t.Fatalf("expected only the frame message, got %d", len(got))
	}
	if _, ok := got[0].(*rpc.EmptyResponseNotification); !ok {
		t.Fatalf("unexpected %T", got[0])
	}
}

func TestWrongTokenIsLoggedButProcessed(t *testing.T) {
	b := newBrowser(t)
	var got []rpc.Object
	c := newClient(t, b, false, func(obj rpc.Object) { got = append(got, obj) })

	b.post(t, b.frame, rpc.NewEmptyResponseNotification(), "not-"+c.Token())
	if len(got) != 1 {
		t.Fatalf("expected the message to reach the handler, got %d", len(got))
	}
}

func TestPopupModeRejectsQueries(t *testing.T) {
	b := newBrowser(t)
	var got []rpc.Object
	c := newClient(t, b, true, func(obj rpc.Object) { got = append(got, obj) })

	if err := c.Call(context.Background(), rpc.NewQueryRequest("q", rpc.QueryEmpty, nil)); err != nil {
		t.Fatalf("call: %v", err)
	}
	if b.opened != 0 {
		t.Fatalf("query should not open a popup")
	}
	if len(got) != 1 {
		t.Fatalf("expected a local response, got %d", len(got))
	}
	resp := got[0].(*rpc.Response)
	want := rpc.MethodNotFoundError("Query request is not supported in popup mode.")
	if resp.ID != "q" {
		t.Fatalf("response id = %q", resp.ID)
	}
	if diff := cmp.Diff(want, resp.Error); diff != "" {
		t.Fatalf("error mismatch (-want +got):\n%s", diff)
	}
}

func TestPopupModeWaitsForServerReady(t *testing.T) {
	ctx := context.Background()
	b := newBrowser(t)
	c := newClient(t, b, true, func(rpc.Object) {})
	if b.frameURL != "" {
		t.Fatalf("popup mode should not load a frame")
	}

	if err := c.Call(ctx, selectRequest()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if b.opened != 1 || c.Pending() != 1 {
		t.Fatalf("opened=%d pending=%d", b.opened, c.Pending())
	}
	b.post(t, b.popup.ep, rpc.NewServerReadyNotification(), "")
	if len(b.received) != 1 {
		t.Fatalf("expected the queued request, got %d", len(b.received))
	}
	if tok := b.received[0].Metadata().RPCToken; tok != "" {
		t.Fatalf("popup requests carry no token, got %q", tok)
	}

	// A second call reuses the popup and waits for it to reload.
	if err := c.Call(ctx, selectRequest()); err != nil {
		t.Fatalf("call: %v", err)
	}
	if b.opened != 1 || len(b.popup.navigated) != 1 || c.Pending() != 1 {
		t.Fatalf("opened=%d navigated=%v pending=%d", b.opened, b.popup.navigated, c.Pending())
	}
	if err := c.ClosePopup(); err != nil {
		t.Fatalf("close popup: %v", err)
	}
	if !b.popup.Closed() || c.PopupWindow() != nil {
		t.Fatalf("popup not closed")
	}
}

func TestCallValidatesAgainstOwnHost(t *testing.T) {
	b := newBrowser(t)
	c := newClient(t, b, false, func(rpc.Object) {})
	req := rpc.NewSelectRequest(rpc.MethodSelect, nil, map[string]any{"clientCallbackUrl": "https://evil.example/cb"})
	err := c.Call(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "clientConfig.clientCallbackUrl") {
		t.Fatalf("expected callback url rejection, got %v", err)
	}
}

func TestAPIRoutesResponses(t *testing.T) {
	ctx := context.Background()
	b := newBrowser(t)
	mock := clock.NewMock()
	mock.Set(time.UnixMilli(1397822400000))

	var selected, empty []any
	api, err := NewAPI(ctx, APIConfig{
		Client: Options{Host: clientHost, Opener: b, Navigator: b},
		Callbacks: Callbacks{
			rpc.MethodSelect: func(result any, _ *rpc.Error) { selected = append(selected, result) },
			EmptyCallback:    func(any, *rpc.Error) { empty = append(empty, nil) },
		},
		ClientCallbackURL: clientOrigin + "/cb",
		Providers:         []string{"https://idp.example"},
		Clock:             mock,
	})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	c := api.Client()
	b.page.Listen(c.Handle)
	if err := c.FrameLoaded(); err != nil {
		t.Fatalf("frame loaded: %v", err)
	}

	var exists []any
	acct := account.Account{Email: "alice@example.com"}
	if err := api.CheckAccountExist(ctx, acct, func(result any, _ *rpc.Error) { exists = append(exists, result) }); err != nil {
		t.Fatalf("query: %v", err)
	}
	if err := api.Select(ctx, nil, map[string]any{"showAll": true}); err != nil {
		t.Fatalf("select: %v", err)
	}
	b.bus.Drain()

	query := b.received[1].(*rpc.QueryRequest)
	if query.ID != "query_accountExist_1397822400000" {
		t.Fatalf("query id = %q", query.ID)
	}
	sel := b.received[2].(*rpc.SelectRequest)
	wantConfig := rpc.Params{
		"clientCallbackUrl": clientOrigin + "/cb",
		"keepPopup":         false,
		"showAll":           true,
		"providers":         []any{"https://idp.example"},
	}
	if diff := cmp.Diff(wantConfig, sel.ClientConfig()); diff != "" {
		t.Fatalf("client config mismatch (-want +got):\n%s", diff)
	}

	b.post(t, b.frame, rpc.NewDoneResponse(query.ID, true), c.Token())
	b.post(t, b.frame, rpc.NewDoneResponse(query.ID, false), c.Token())
	b.post(t, b.frame, rpc.NewDoneResponse(rpc.MethodSelect, map[string]any{"addAccount": true}), c.Token())
	b.post(t, b.frame, rpc.NewEmptyResponseNotification(), c.Token())

	if diff := cmp.Diff([]any{true}, exists); diff != "" {
		t.Fatalf("query callback should fire once (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]any{map[string]any{"addAccount": true}}, selected); diff != "" {
		t.Fatalf("select callback mismatch (-want +got):\n%s", diff)
	}
	if len(empty) != 1 {
		t.Fatalf("empty callback fired %d times", len(empty))
	}
}
