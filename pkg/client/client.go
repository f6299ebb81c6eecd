// Package client is the relying-party side of the chooser protocol. It
// reaches the chooser through a hidden relay frame (redirect mode) or a
// popup window, queueing requests until the far side is ready.
package client

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/policy"
	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
	"github.com/rexliu/acrpc/pkg/validate"
)

// Server defaults.
const (
	DefaultDomain       = "https://www.accountchooser.com"
	DefaultIFramePath   = "/iframe.html"
	DefaultPopupPath    = "/popup.html"
	DefaultRedirectPath = "/redirect.html"

	DefaultPopupWidth  = 520
	DefaultPopupHeight = 550
	DefaultPopupName   = "acPopup"
)

// ServerSpec locates the chooser. Paths are relative to Domain.
type ServerSpec struct {
	Domain   string `toml:"domain" json:"domain"`
	IFrame   string `toml:"iframe" json:"iframe"`
	Popup    string `toml:"popup" json:"popup"`
	Redirect string `toml:"redirect" json:"redirect"`
}

// DefaultServerSpec returns the public chooser.
func DefaultServerSpec() ServerSpec {
	return ServerSpec{
		Domain:   DefaultDomain,
		IFrame:   DefaultIFramePath,
		Popup:    DefaultPopupPath,
		Redirect: DefaultRedirectPath,
	}
}

func (s ServerSpec) withDefaults() ServerSpec {
	d := DefaultServerSpec()
	if s.Domain == "" {
		s.Domain = d.Domain
	}
	if s.IFrame == "" {
		s.IFrame = d.IFrame
	}
	if s.Popup == "" {
		s.Popup = d.Popup
	}
	if s.Redirect == "" {
		s.Redirect = d.Redirect
	}
	return s
}

// IFrameURL is the relay frame page.
func (s ServerSpec) IFrameURL() string { return s.Domain + s.IFrame }

// PopupURL is the popup chooser page.
func (s ServerSpec) PopupURL() string { return s.Domain + s.Popup }

// RedirectURL is the full-page chooser.
func (s ServerSpec) RedirectURL() string { return s.Domain + s.Redirect }

// Popup is a window opened by the client.
type Popup interface {
	transport.Window
	Closed() bool
	Close() error
	// Navigate loads url into the popup and focuses it.
	Navigate(url string) error
}

// Opener creates the windows the client talks through.
type Opener interface {
	// LoadFrame inserts a hidden frame at url. The host calls
	// Client.FrameLoaded once the frame document is ready.
	LoadFrame(ctx context.Context, url string) (transport.Window, error)
	OpenPopup(ctx context.Context, url string, width, height int, name string) (Popup, error)
}

// Navigator moves the client page.
type Navigator interface {
	Navigate(ctx context.Context, url string) error
}

// Handler receives every Response and EmptyResponseNotification.
type Handler func(obj rpc.Object)

// Logger is the logging surface used here.
type Logger interface {
	Printf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Options configures a Client.
type Options struct {
	Server    ServerSpec
	PopupMode bool
	// Popup is an already opened popup to reuse.
	Popup       Popup
	PopupWidth  int
	PopupHeight int
	PopupName   string
	// Host is the client page host, used to check callback URLs and as
	// the fragment of the redirect page.
	Host      string
	Opener    Opener
	Navigator Navigator
	Handler   Handler
	Logger    Logger
}

// clientKinds are the messages a client accepts from the chooser.
var clientKinds = []rpc.Kind{
	rpc.KindRequestAck,
	rpc.KindServerReady,
	rpc.KindEmptyResponse,
	rpc.KindResponse,
}

// Client is the client transport. The zero value is not usable; use New
// and then Init.
type Client struct {
	server    ServerSpec
	width     int
	height    int
	name      string
	host      string
	opener    Opener
	navigator Navigator
	handler   Handler
	log       Logger

	mu          sync.Mutex
	ctx         context.Context
	initialized bool
	popupMode   bool
	popup       Popup
	frame       transport.Window
	frameLoaded bool
	serverReady bool
	token       string
	queue       []rpc.ClientRequest
}

// New returns an uninitialized client.
func New(opts Options) (*Client, error) {
	if opts.Handler == nil {
		return nil, errors.New("client: handler required")
	}
	if opts.Opener == nil {
		return nil, errors.New("client: opener required")
	}
	c := &Client{
		server:    opts.Server.withDefaults(),
		width:     opts.PopupWidth,
		height:    opts.PopupHeight,
		name:      opts.PopupName,
		host:      opts.Host,
		opener:    opts.Opener,
		navigator: opts.Navigator,
		handler:   opts.Handler,
		log:       opts.Logger,
		popupMode: opts.PopupMode,
		popup:     opts.Popup,
		ctx:       context.Background(),
	}
	if c.width <= 0 {
		c.width = DefaultPopupWidth
	}
	if c.height <= 0 {
		c.height = DefaultPopupHeight
	}
	if c.name == "" {
		c.name = DefaultPopupName
	}
	if c.log == nil {
		c.log = nopLogger{}
	}
	return c, nil
}

// Init applies the configured mode. In redirect mode it loads the relay
// frame.
func (c *Client) Init(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.initialized = true
	popup := c.popupMode
	c.mu.Unlock()
	return c.SetPopupMode(ctx, popup)
}

// Server returns the chooser location.
func (c *Client) Server() ServerSpec { return c.server }

// PopupMode reports the current mode.
func (c *Client) PopupMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popupMode
}

// SetPopupMode switches modes. Entering popup mode drops the relay frame;
// entering redirect mode loads one.
func (c *Client) SetPopupMode(ctx context.Context, popup bool) error {
	c.mu.Lock()
	c.popupMode = popup
	if popup {
		c.frame = nil
		c.frameLoaded = false
		c.token = ""
		c.mu.Unlock()
		return nil
	}
	if c.frame != nil {
		c.mu.Unlock()
		return nil
	}
	c.token = rpc.NewToken()
	url := c.server.IFrameURL() + "#" + c.token
	c.mu.Unlock()

	frame, err := c.opener.LoadFrame(ctx, url)
	if err != nil {
		return errors.Wrap(err, "load relay frame")
	}
	c.mu.Lock()
	c.frame = frame
	c.mu.Unlock()
	return nil
}

// SetPopupWindow replaces the popup window.
func (c *Client) SetPopupWindow(p Popup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.popup = p
}

// PopupWindow returns the popup window, or nil.
func (c *Client) PopupWindow() Popup {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.popup
}

// ClosePopup closes the popup if it is open.
func (c *Client) ClosePopup() error {
	c.mu.Lock()
	p := c.popup
	c.popup = nil
	c.mu.Unlock()
	if p == nil || p.Closed() {
		return nil
	}
	return p.Close()
}

// Token returns the relay frame token, or "" in popup mode.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Pending returns the number of queued requests.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// FrameLoaded is called by the host once the relay frame document is
// ready. It sends the ready notification and flushes the queue.
func (c *Client) FrameLoaded() error {
	c.mu.Lock()
	c.frameLoaded = true
	if c.popupMode || c.frame == nil {
		c.mu.Unlock()
		return nil
	}
	frame, token := c.frame, c.token
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()

	if err := rpc.Call(frame, rpc.NewClientReadyNotification(), "", token); err != nil {
		return errors.Wrap(err, "notify relay frame")
	}
	return c.send(frame, token, queue)
}

// Call validates req and sends it, or queues it until the far side is
// ready. In popup mode a query is answered locally with an error.
func (c *Client) Call(ctx context.Context, req rpc.ClientRequest) error {
	if err := validate.Request(req, c.host); err != nil {
		return errors.Wrapf(err, "invalid %s request", req.Method())
	}
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return errors.New("client: not initialized")
	}
	if !c.popupMode {
		if !c.frameLoaded {
			c.queue = append(c.queue, req)
			c.mu.Unlock()
			return nil
		}
		frame, token := c.frame, c.token
		c.mu.Unlock()
		return rpc.Call(frame, req, "", token)
	}
	c.mu.Unlock()

	if _, ok := req.(*rpc.QueryRequest); ok {
		c.handler(rpc.NewErrorResponse(req.RequestID(),
			rpc.MethodNotFoundError("Query request is not supported in popup mode.")))
		return nil
	}
	popup, err := c.openPopup(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	if !c.serverReady {
		c.queue = append(c.queue, req)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return rpc.Call(popup, req, "", "")
}

// openPopup opens the chooser popup, or reloads the open one. Either way
// the server must announce itself again.
func (c *Client) openPopup(ctx context.Context) (Popup, error) {
	c.mu.Lock()
	c.serverReady = false
	popup := c.popup
	c.mu.Unlock()

	if popup == nil || popup.Closed() {
		p, err := c.opener.OpenPopup(ctx, c.server.PopupURL(), c.width, c.height, c.name)
		if err != nil {
			return nil, errors.Wrap(err, "open popup")
		}
		popup = p
	} else if err := popup.Navigate(c.server.PopupURL()); err != nil {
		return nil, errors.Wrap(err, "reload popup")
	}
	c.mu.Lock()
	c.popup = popup
	c.mu.Unlock()
	return popup, nil
}

// Handle receives every message posted to the client window.
func (c *Client) Handle(ev transport.Event) {
	c.mu.Lock()
	server := c.frame
	if c.popupMode && c.popup != nil {
		server = c.popup
	}
	token := c.token
	c.mu.Unlock()

	if ev.Origin != c.server.Domain {
		return
	}
	if token != "" {
		if raw, err := rpc.Decode(ev.Data); err == nil {
			if got, _ := raw["rpcToken"].(string); got != token {
				c.log.Printf("wrong rpc received from %s", ev.Origin)
			}
		}
	}
	gate := &policy.Policy{
		Window:     server,
		Acceptable: clientKinds,
		Handler:    c.process,
		Origin:     c.server.Domain,
		Logger:     c.log,
	}
	if err := gate.Handle(ev); err != nil {
		c.log.Printf("message rejected: %v", err)
	}
}

func (c *Client) process(obj rpc.Object, _ string) {
	switch obj.(type) {
	case *rpc.ServerReadyNotification:
		c.onServerReady()
	case *rpc.RequestAckNotification:
		c.onRequestAck()
	default:
		c.handler(obj)
	}
}

func (c *Client) onServerReady() {
	c.mu.Lock()
	if !c.popupMode || c.popup == nil {
		c.mu.Unlock()
		return
	}
	c.serverReady = true
	popup := c.popup
	queue := c.queue
	c.queue = nil
	c.mu.Unlock()
	if err := c.send(popup, "", queue); err != nil {
		c.log.Printf("flush queue to popup: %v", err)
	}
}

// onRequestAck leaves for the chooser page, which serves the request the
// relay frame saved.
func (c *Client) onRequestAck() {
	c.mu.Lock()
	popup, ctx := c.popupMode, c.ctx
	c.mu.Unlock()
	if popup || c.navigator == nil {
		return
	}
	if err := c.navigator.Navigate(ctx, c.server.RedirectURL()+"#"+c.host); err != nil {
		c.log.Printf("navigate to chooser: %v", err)
	}
}

func (c *Client) send(w transport.Window, token string, queue []rpc.ClientRequest) error {
	for _, req := range queue {
		if err := rpc.Call(w, req, "", token); err != nil {
			return errors.Wrapf(err, "send %s", req.RequestID())
		}
	}
	return nil
}
