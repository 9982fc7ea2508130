// Package wsserver binds the room coordinator to HTTP: a websocket endpoint plus small
// JSON routes for the directory and health.
package wsserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/park285/cheese-chess-rooms/internal/hub"
	"github.com/park285/cheese-chess-rooms/internal/room"
	"github.com/park285/cheese-chess-rooms/internal/session"
	"github.com/park285/cheese-chess-rooms/pkg/protocol"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Options struct {
	WSPath         string
	OriginPatterns []string
	ReadLimit      int64
	WriteTimeout   time.Duration
	PingInterval   time.Duration
}

func (o *Options) setDefaults() {
	if o.WSPath == "" {
		o.WSPath = "/ws"
	}
	if len(o.OriginPatterns) == 0 {
		o.OriginPatterns = []string{"*"}
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 32 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
}

type Server struct {
	coord *session.Coordinator
	hub   *hub.Hub
	reg   *room.Registry
	opts  Options
	log   *zap.Logger

	baseCtx context.Context
	stop    context.CancelFunc
	active  sync.WaitGroup
}

func New(coord *session.Coordinator, h *hub.Hub, reg *room.Registry, opts Options, log *zap.Logger) *Server {
	opts.setDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{coord: coord, hub: h, reg: reg, opts: opts, log: log, baseCtx: ctx, stop: cancel}
}

// Routes returns the HTTP handler of the server.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Group(func(r chi.Router) {
		r.Use(s.accessLog)
		r.Get("/healthz", s.handleHealth)
		r.Get("/rooms", s.handleRooms)
	})
	r.Get(s.opts.WSPath, s.handleWS)
	return r
}

// Shutdown closes every websocket session and waits for their cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stop()
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, protocol.HealthResponse{
		Status:      "ok",
		Rooms:       s.reg.Len(),
		Connections: s.hub.Count(),
	})
}

func (s *Server) handleRooms(w http.ResponseWriter, _ *http.Request) {
	ids := s.reg.RoomIDs()
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, protocol.DirectoryResponse{Rooms: ids})
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http_request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.baseCtx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.opts.OriginPatterns,
		InsecureSkipVerify: allowsAnyOrigin(s.opts.OriginPatterns),
	})
	if err != nil {
		s.log.Warn("ws_accept_failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(s.opts.ReadLimit)

	s.active.Add(1)
	defer s.active.Done()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	unlink := context.AfterFunc(s.baseCtx, cancel)
	defer unlink()

	connID := uuid.NewString()
	client := s.hub.Register(connID)
	log := s.log.With(zap.String("conn_id", connID))
	log.Info("ws_connect", zap.String("remote", r.RemoteAddr))

	s.coord.Connect(connID)

	writerDone := make(chan struct{})
	go s.writeLoop(ctx, cancel, conn, client, writerDone)

	s.readLoop(ctx, conn, client, log)

	// leave first so the remaining participant is told, then release the outbox
	s.coord.Disconnect(connID)
	cancel()
	s.hub.Unregister(connID)
	<-writerDone
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	log.Info("ws_disconnect")
}

// readLoop stops taking requests once the hub has dropped the client.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *hub.Client, log *zap.Logger) {
	connID := client.ID()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				if ctx.Err() == nil {
					log.Debug("ws_read_error", zap.Error(err))
				}
			}
			return
		}
		if client.Closed() {
			log.Debug("ws_drop_request_after_close")
			return
		}
		if typ != websocket.MessageText {
			s.coord.Handle(connID, []byte("{}"))
			continue
		}
		s.coord.Handle(connID, data)
	}
}

// writeLoop is the only writer of conn. It exits when the outbox closes, a write fails or
// ctx ends; the first two cancel ctx so the reader stops as well.
func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, client *hub.Client, done chan<- struct{}) {
	defer close(done)
	var tick <-chan time.Time
	if s.opts.PingInterval > 0 {
		t := time.NewTicker(s.opts.PingInterval)
		defer t.Stop()
		tick = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-client.Outbox():
			if !ok {
				if ctx.Err() == nil {
					s.log.Warn("ws_outbox_closed", zap.String("conn_id", client.ID()))
					_ = conn.Close(websocket.StatusPolicyViolation, "outbox overflow")
					cancel()
				}
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := conn.Write(wctx, websocket.MessageText, frame)
			wcancel()
			if err != nil {
				s.log.Debug("ws_write_failed", zap.String("conn_id", client.ID()), zap.Error(err))
				cancel()
				return
			}
		case <-tick:
			pctx, pcancel := context.WithTimeout(ctx, s.opts.WriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				s.log.Debug("ws_ping_failed", zap.String("conn_id", client.ID()), zap.Error(err))
				cancel()
				return
			}
		}
	}
}

func allowsAnyOrigin(patterns []string) bool {
	for _, p := range patterns {
		if p == "*" {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
