package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/rexliu/acrpc/pkg/rpc"
)

// HandlerFunc processes RPC params and returns a result or structured error.
type HandlerFunc func(context.Context, json.RawMessage) (any, *Error)

// Logger is satisfied by logging.Logger; kept minimal to avoid dependency cycles.
type Logger interface {
	Printf(format string, v ...any)
}

// Server listens for IPC requests over Unix sockets.
type Server struct {
	ln       net.Listener
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	closed   bool
	logger   Logger
}

// NewServer constructs an IPC server.
func NewServer(logger Logger) *Server {
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register installs a handler for a method.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = handler
}

// Methods returns the registered method names.
func (s *Server) Methods() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.handlers))
	for m := range s.handlers {
		out = append(out, m)
	}
	return out
}

// Start begins accepting connections on endpoint.
func (s *Server) Start(ctx context.Context, endpoint string) error {
	if s == nil {
		return errors.New("nil server")
	}
	ln, err := net.Listen("unix", endpoint)
	if err != nil {
		return errors.Wrapf(err, "listen %s", endpoint)
	}
	// Callers are trusted for the origin they report.
	if err := os.Chmod(endpoint, 0o600); err != nil {
		ln.Close()
		return errors.Wrapf(err, "chmod %s", endpoint)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	go s.acceptLoop(ctx)
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logf("accept error: %v", err)
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	for {
		payload, err := readFrame(conn)
		if err != nil {
			return
		}
		if err := s.writeResponse(conn, s.Dispatch(ctx, payload)); err != nil {
			return
		}
	}
}

// Dispatch decodes one request payload and runs its handler.
func (s *Server) Dispatch(ctx context.Context, payload []byte) Response {
	traceID := "ipc-" + rpc.NewRequestID()
	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		return errorResponse(req.ID, traceID, Errorf(CodeInvalidRequest, "invalid json", nil))
	}
	handler := s.lookupHandler(req.Type)
	if handler == nil {
		return errorResponse(req.ID, traceID, Errorf(CodeUnknownMethod, "unknown method", map[string]any{"method": req.Type}))
	}
	result, rpcErr := handler(ctx, req.Params)
	if rpcErr != nil {
		return errorResponse(req.ID, traceID, rpcErr)
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResponse(req.ID, traceID, Errorf(CodeInternal, err.Error(), nil))
	}
	return Response{ID: req.ID, OK: true, Result: raw, TraceID: traceID}
}

func errorResponse(id, traceID string, e *Error) Response {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details["traceId"] = traceID
	return Response{ID: id, Error: e, TraceID: traceID}
}

func (s *Server) lookupHandler(method string) HandlerFunc {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers[method]
}

func (s *Server) writeResponse(conn net.Conn, resp Response) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return writeFrame(conn, payload)
}

// Stop shuts down the listener.
func (s *Server) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

func (s *Server) logf(format string, v ...any) {
	if s.logger != nil {
		s.logger.Printf(format, v...)
	}
}

// Errorf helps build protocol errors.
func Errorf(code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}
