// Package policy is the gate every inbound transport message passes before
// it reaches application code.
package policy

import (
	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/rpc"
	"github.com/rexliu/acrpc/pkg/transport"
	"github.com/rexliu/acrpc/pkg/validate"
)

// Logger is satisfied by logging.Logger.
type Logger interface {
	Printf(format string, v ...any)
}

// HandlerFunc receives messages that passed every check, with the
// verified origin of the sender.
type HandlerFunc func(obj rpc.Object, origin string)

// ValidateFunc validates a request against the verified origin.
type ValidateFunc func(obj rpc.Object, origin string) error

// ValidationError is returned by Handle when a recognized message fails
// validation. The message is attached so callers can answer it.
type ValidationError struct {
	Object rpc.Object
	Origin string
	Err    error
}

func (e *ValidationError) Error() string {
	return "invalid request from " + e.Origin + ": " + e.Err.Error()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RequestID returns the id of the rejected request, or "" for
// notifications.
func (e *ValidationError) RequestID() string {
	if req, ok := e.Object.(rpc.ClientRequest); ok {
		return req.RequestID()
	}
	return ""
}

// Policy is the security configuration of one channel.
type Policy struct {
	// Window is the only window whose messages are accepted.
	Window transport.Window
	// Acceptable whitelists the message kinds.
	Acceptable []rpc.Kind
	// Handler receives accepted messages.
	Handler HandlerFunc
	// Token, when set, must equal the rpcToken of every message.
	Token string
	// Origin, when set, must equal the origin of every message.
	Origin string
	// Validate defaults to validate.Request.
	Validate ValidateFunc
	Logger   Logger
}

// Handle runs ev through the gate. Messages from the wrong window, with the
// wrong origin or token, malformed or not acceptable are dropped and Handle
// returns nil. A validation failure is returned as *ValidationError and the
// handler is not called.
func (p *Policy) Handle(ev transport.Event) error {
	if !transport.SameWindow(ev.Source, p.Window) {
		return nil
	}
	if p.Origin != "" && p.Origin != ev.Origin {
		p.logf("invalid message received: mismatched origin %s", ev.Origin)
		return nil
	}
	raw, err := rpc.Decode(ev.Data)
	if err != nil {
		p.logf("invalid json object from %s", ev.Origin)
		return nil
	}
	if p.Token != "" {
		token, _ := raw["rpcToken"].(string)
		if !ConstantTimeEqual(p.Token, token) {
			p.logf("invalid rpc received: mismatched rpc token")
			return nil
		}
	}
	obj := rpc.ParseObject(raw, p.Acceptable...)
	if obj == nil {
		p.logf("invalid rpc received: unacceptable rpc type")
		return nil
	}
	if inbound(obj) {
		validateFn := p.Validate
		if validateFn == nil {
			validateFn = validate.Request
		}
		if err := validateFn(obj, ev.Origin); err != nil {
			return &ValidationError{Object: obj, Origin: ev.Origin, Err: errors.WithStack(err)}
		}
	}
	if p.Handler != nil {
		p.Handler(obj, ev.Origin)
	}
	return nil
}

// Listener adapts the policy to a transport handler. Validation failures
// are passed to onInvalid, which may be nil.
func (p *Policy) Listener(onInvalid func(*ValidationError)) transport.Handler {
	return func(ev transport.Event) {
		err := p.Handle(ev)
		if err == nil {
			return
		}
		var verr *ValidationError
		if errors.As(err, &verr) && onInvalid != nil {
			onInvalid(verr)
			return
		}
		p.logf("message rejected: %v", err)
	}
}

// inbound reports whether obj travels from a client toward the chooser
// and therefore carries parameters to validate.
func inbound(obj rpc.Object) bool {
	switch obj.(type) {
	case rpc.ClientRequest, *rpc.ClientReadyNotification:
		return true
	}
	return false
}

func (p *Policy) logf(format string, v ...any) {
	if p.Logger != nil {
		p.Logger.Printf(format, v...)
	}
}
