package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	errorsmod "cosmossdk.io/errors"
	"github.com/GPTx-global/guru-oracle/oracle/daemon"
	"github.com/GPTx-global/guru-oracle/oracle/health"
	"github.com/GPTx-global/guru-oracle/oracle/log"
	"github.com/GPTx-global/guru-oracle/oracle/types"
	"github.com/armon/go-metrics"
	"github.com/ethereum/go-ethereum/event"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/spf13/cast"
)

const (
	writeWait    = 5 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 50 * time.Second
	syncTimeout  = 3 * time.Minute
)

// Daemon is the part of the daemon the control API drives.
type Daemon interface {
	Status() daemon.Status
	Snapshot() (types.Snapshot, time.Time, bool)
	RunOnce(ctx context.Context) (types.Snapshot, error)
	Refresh(ctx context.Context) (types.Snapshot, error)
	StartAuto(seconds uint64) error
	StopAuto()
	Recent() []types.Activity
	SubscribeActivity(ch chan<- types.Activity) event.Subscription
}

type apiError struct {
	Codespace string `json:"codespace,omitempty"`
	Code      uint32 `json:"code"`
	Message   string `json:"message"`
}

type snapshotResponse struct {
	Snapshot types.Snapshot `json:"snapshot"`
	Price    string         `json:"price"`
	ReadAt   time.Time      `json:"readAt"`
}

// Server is the local operator control API.
type Server struct {
	router   *mux.Router
	handler  http.Handler
	daemon   Daemon
	checker  *health.Checker
	sink     *metrics.InmemSink
	upgrader websocket.Upgrader
}

func New(d Daemon, checker *health.Checker, sink *metrics.InmemSink, allowedOrigins []string) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		daemon:  d,
		checker: checker,
		sink:    sink,
	}

	c := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || c.OriginAllowed(r)
		},
	}

	s.routes()
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	s.router.HandleFunc("/sync", s.handleSync).Methods(http.MethodPost)
	s.router.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	s.router.HandleFunc("/auto/start", s.handleAutoStart).Methods(http.MethodPost)
	s.router.HandleFunc("/auto/stop", s.handleAutoStop).Methods(http.MethodPost)
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("control API listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap, at, ok := s.daemon.Snapshot()
	if !ok {
		writeError(w, errorsmod.Wrap(types.ErrNoOracle, "no snapshot cached"))
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, Price: snap.FormatPrice(), ReadAt: at})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := http.StatusOK
	if !s.checker.IsHealthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]interface{}{
		"healthy": status == http.StatusOK,
		"checks":  s.checker.Status(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.sink == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{})
		return
	}
	summary, err := s.sink.DisplayMetrics(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), syncTimeout)
	defer cancel()

	snap, err := s.daemon.RunOnce(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, Price: snap.FormatPrice(), ReadAt: time.Now()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	snap, err := s.daemon.Refresh(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshotResponse{Snapshot: snap, Price: snap.FormatPrice(), ReadAt: time.Now()})
}

func (s *Server) handleAutoStart(w http.ResponseWriter, r *http.Request) {
	seconds := uint64(types.DefaultSyncInterval)
	if raw := r.URL.Query().Get("interval"); raw != "" {
		v, err := cast.ToUint64E(raw)
		if err != nil {
			writeError(w, errorsmod.Wrapf(types.ErrInvalidArgument, "interval %q is not a number of seconds", raw))
			return
		}
		seconds = v
	}

	if err := s.daemon.StartAuto(seconds); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.daemon.Status().Sync)
}

func (s *Server) handleAutoStop(w http.ResponseWriter, _ *http.Request) {
	s.daemon.StopAuto()
	writeJSON(w, http.StatusOK, s.daemon.Status().Sync)
}

// handleEvents streams the recent activity, then every new record, as JSON text frames.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ch := make(chan types.Activity, 64)
	sub := s.daemon.SubscribeActivity(ch)
	defer sub.Unsubscribe()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for _, a := range s.daemon.Recent() {
		if err := writeFrame(conn, a); err != nil {
			return
		}
	}

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case a := <-ch:
			if err := writeFrame(conn, a); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-sub.Err():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
			return
		case <-closed:
			return
		}
	}
}

func writeFrame(conn *websocket.Conn, a types.Activity) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(a)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	codespace, code, _ := errorsmod.ABCIInfo(err, false)
	writeJSON(w, statusFor(err), map[string]apiError{
		"error": {Codespace: codespace, Code: code, Message: err.Error()},
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNoOracle):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSyncBusy),
		errors.Is(err, types.ErrSessionInvalidated),
		errors.Is(err, types.ErrNoWalletProvider):
		return http.StatusConflict
	case errors.Is(err, types.ErrSourceUnreachable),
		errors.Is(err, types.ErrMalformedResponse),
		errors.Is(err, types.ErrRemoteCallFailed),
		errors.Is(err, types.ErrRemoteWriteFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
