// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: server.go — WebSocket control channel over the handler table
//
// Purpose:
//   - Lets an operator read and write named endpoints while the executor runs.
//
// Protocol:
//   - Each text frame carries one request {"op","handler","value"} with op
//     "read", "write" or "list"; each request gets one response
//     {"ok","value","error"} on the same connection, in order.
// ─────────────────────────────────────────────────────────────────────────────

package ctrlws

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"

	"hybridsched/debug"
	"hybridsched/handler"
)

const (
	readLimit       = 64 << 10
	writeTimeout    = 5 * time.Second
	shutdownTimeout = 2 * time.Second
)

// Request is one control operation.
type Request struct {
	Op      string `json:"op"`
	Handler string `json:"handler"`
	Value   string `json:"value"`
}

// Response answers one Request.
type Response struct {
	OK    bool   `json:"ok"`
	Value string `json:"value"`
	Error string `json:"error,omitempty"`
}

// Server serves the handler table on /control.
type Server struct {
	table    *handler.Table
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// New returns a server over t. Origins are not checked; bind to a trusted
// address.
func New(t *handler.Table) *Server {
	return &Server{
		table: t,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler returns the HTTP routes: /control (WebSocket) and /health.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/control", s.serveControl)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Write([]byte("ok\n"))
	})
	return mux
}

// Serve accepts on ln until ctx is done, then closes open control
// connections. Returns nil on a ctx-driven shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.Handler()}
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.closeAll()
		srv.Shutdown(sctx)
	}()

	err := srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		<-stopped
		return nil
	}
	return err
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	debug.DropMessage("CTRL", "control channel on ws://"+ln.Addr().String()+"/control")
	return s.Serve(ctx, ln)
}

func (s *Server) serveControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		debug.DropError("CTRL", err)
		return
	}
	conn.SetReadLimit(readLimit)
	s.track(conn, true)
	defer func() {
		s.track(conn, false)
		conn.Close()
	}()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				debug.DropDebug("CTRL", "read: "+err.Error())
			}
			return
		}
		if kind != websocket.TextMessage {
			continue
		}

		var resp Response
		var req Request
		if err := sonnet.Unmarshal(msg, &req); err != nil {
			resp = Response{Error: "malformed request: " + err.Error()}
		} else {
			resp = s.Handle(req)
		}
		out, err := sonnet.Marshal(resp)
		if err != nil {
			debug.DropError("CTRL", err)
			return
		}
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, out); err != nil {
			debug.DropDebug("CTRL", "write: "+err.Error())
			return
		}
	}
}

// Handle executes one request against the table.
func (s *Server) Handle(req Request) Response {
	switch strings.ToLower(req.Op) {
	case "read":
		v, err := s.table.Read(req.Handler)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{OK: true, Value: v}
	case "write":
		if err := s.table.Write(req.Handler, req.Value); err != nil {
			return Response{Error: err.Error()}
		}
		debug.DropDebug("CTRL", "write "+req.Handler+" = "+req.Value)
		return Response{OK: true}
	case "list":
		return Response{OK: true, Value: strings.Join(s.table.Names(), "\n")}
	default:
		return Response{Error: "unknown op " + `"` + req.Op + `"`}
	}
}

func (s *Server) track(c *websocket.Conn, open bool) {
	s.mu.Lock()
	if open {
		s.conns[c] = struct{}{}
	} else {
		delete(s.conns, c)
	}
	s.mu.Unlock()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		c.Close()
	}
}
