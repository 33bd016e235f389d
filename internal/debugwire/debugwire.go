// Package debugwire serves a VM's debug event stream over websocket.
//
// The server listens on the transport address, accepts clients on /debug
// and pushes one JSON Event per VM lifecycle step, thread transition,
// invocation and managed exception.
package debugwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// Path is the websocket endpoint.
const Path = "/debug"

// MaxClients caps concurrent debugger connections.
const MaxClients = 4

// writeTimeout bounds a single event write to one client.
const writeTimeout = time.Second

// Event is one entry of the debug stream.
type Event struct {
	Event  string    `json:"event"`
	Thread int       `json:"thread,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Server is a running debug transport.
type Server struct {
	ln  net.Listener
	srv *http.Server
	log *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
	closed  bool

	connected chan struct{}
	once      sync.Once
	done      chan struct{}
}

// ListenAddr turns a transport address into a listen address. A bare port
// binds the loopback interface.
func ListenAddr(address string) string {
	if !strings.Contains(address, ":") {
		return net.JoinHostPort("127.0.0.1", address)
	}
	return address
}

// Listen starts a debug server on address.
func Listen(address string, log *zap.Logger) (*Server, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ln, err := net.Listen("tcp", ListenAddr(address))
	if err != nil {
		return nil, fmt.Errorf("debug transport listen on %q: %w", address, err)
	}
	s := &Server{
		ln:        netutil.LimitListener(ln, MaxClients),
		log:       log,
		clients:   make(map[*websocket.Conn]struct{}),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(Path, s.handle)
	s.srv = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		defer close(s.done)
		if err := s.srv.Serve(s.ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("debug transport stopped", zap.Error(err))
		}
	}()
	s.log.Info("debug transport listening", zap.String("addr", s.Addr()))
	return s, nil
}

// Addr is the bound listen address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// URL is the websocket URL clients dial.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + Path
}

// WaitForClient blocks until the first debugger connects or ctx ends.
func (s *Server) WaitForClient(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for debugger on %s: %w", s.Addr(), ctx.Err())
	}
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Debug("debug client rejected", zap.Error(err))
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.Close(websocket.StatusGoingAway, "vm destroyed")
		return
	}
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	s.once.Do(func() { close(s.connected) })
	s.log.Debug("debug client connected", zap.String("remote", r.RemoteAddr))

	// Clients only listen; CloseRead discards anything they send and
	// cancels ctx when the connection goes away.
	ctx := c.CloseRead(r.Context())
	<-ctx.Done()

	s.drop(c)
}

func (s *Server) drop(c *websocket.Conn) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()
	if ok {
		c.CloseNow()
	}
}

// Publish sends ev to every connected client. Slow or broken clients are
// dropped.
func (s *Server) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := wsjson.Write(ctx, c, ev)
		cancel()
		if err != nil {
			s.log.Debug("dropping debug client", zap.Error(err))
			s.drop(c)
		}
	}
}

// Close disconnects all clients and stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	conns := s.clients
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	for c := range conns {
		c.Close(websocket.StatusNormalClosure, "vm destroyed")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.srv.Shutdown(ctx)
	<-s.done
	return err
}
