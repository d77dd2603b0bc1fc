package rpcserver

import (
	"context"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/cascadehq/cascade/internal/bus"
	"github.com/cascadehq/cascade/internal/cascade"
	"github.com/cascadehq/cascade/internal/digest"
	"github.com/cascadehq/cascade/internal/radar"
	"github.com/cascadehq/cascade/internal/runners"
	"github.com/cascadehq/cascade/internal/store"
)

// recentEventBufferSize bounds the in-memory ring the bus resource serves;
// older notifications are dropped, not persisted (spec.md leaves the
// notification transport out of scope — this is an operational convenience
// for an attached console, not a durable log).
const recentEventBufferSize = 200

// Version is injected at build time from the orchestratord binary.
var Version = "dev"

// Server exposes the core components as MCP tools over JSON-RPC 2.0.
type Server struct {
	server *mcp.Server

	store    *store.Store
	runners  *runners.Registry
	radar    *radar.Radar
	digest   *digest.Scheduler
	bus      *bus.Bus
	log      *zap.Logger

	// sessions holds in-flight cascade sessions keyed by session_id. The
	// store table for these is explicitly not spec-mandated (spec.md §9);
	// an in-process map is the simplest implementation that still
	// round-trips through Session.ToJSON/FromJSON on request.
	mu       sync.Mutex
	sessions map[string]*cascade.Session

	// recent buffers the bus events a permanent internal subscriber has
	// seen, so the cascade://events/recent resource has something to read
	// without requiring a caller to hold a live subscription open.
	recentMu sync.Mutex
	recent   []bus.Event
}

// Option customizes Server wiring.
type Option func(*Server)

// WithDigestScheduler wires an optional digest scheduler for introspection
// tools (e.g. reporting configured schedules). Not required for core
// operation.
func WithDigestScheduler(d *digest.Scheduler) Option {
	return func(s *Server) { s.digest = d }
}

// New wires a Server over an existing store, runner registry and radar.
func New(st *store.Store, reg *runners.Registry, rd *radar.Radar, log *zap.Logger, opts ...Option) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	impl := Version
	if impl == "" {
		impl = "dev"
	}

	srv := &Server{
		server:   mcp.NewServer(&mcp.Implementation{Name: "orchestratord", Version: impl}, nil),
		store:    st,
		runners:  reg,
		radar:    rd,
		bus:      bus.NewBus(recentEventBufferSize),
		log:      log.Named("rpcserver"),
		sessions: make(map[string]*cascade.Session),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(srv)
		}
	}

	srv.watchBus()
	srv.registerTools()
	srv.registerResources()
	return srv
}

// watchBus subscribes a permanent internal observer so the
// cascade://events/recent resource always has a buffered tail to read,
// mirroring the teacher's controlplane/alerts fan-out: the bus stays a
// plain pub/sub primitive, and this is just one more subscriber.
func (s *Server) watchBus() {
	ch := s.bus.Subscribe("rpcserver-recent")
	go func() {
		for evt := range ch {
			s.recentMu.Lock()
			s.recent = append(s.recent, evt)
			if len(s.recent) > recentEventBufferSize {
				s.recent = s.recent[len(s.recent)-recentEventBufferSize:]
			}
			s.recentMu.Unlock()
		}
	}()
}

// recentEvents returns a snapshot of the buffered bus tail, optionally
// filtered to one workspace.
func (s *Server) recentEvents(workspace string) []bus.Event {
	s.recentMu.Lock()
	defer s.recentMu.Unlock()
	out := make([]bus.Event, 0, len(s.recent))
	for _, evt := range s.recent {
		if workspace != "" && evt.Workspace != workspace {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Run serves the JSON-RPC 2.0 surface over stdio, per spec.md §6. Blocks
// until ctx is canceled or the transport's underlying stdio pipe closes.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// MCPServer exposes the underlying *mcp.Server, e.g. for an HTTP-mounted
// transport in addition to stdio (operational convenience, not part of the
// spec's required surface).
func (s *Server) MCPServer() *mcp.Server {
	return s.server
}

func (s *Server) session(id string) (*cascade.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

func (s *Server) putSession(sess *cascade.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.SessionID] = sess
}
