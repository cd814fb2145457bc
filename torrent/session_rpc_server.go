package torrent

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"time"

	"github.com/cenkalti/steward/internal/logger"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// rpcServer serves JSON-RPC calls on "/" and engine readiness on "/ready".
type rpcServer struct {
	session    *Session
	httpServer http.Server
	listener   net.Listener
	log        logger.Logger
}

func newRPCServer(ses *Session) *rpcServer {
	s := &rpcServer{
		session: ses,
		log:     logger.New("rpc server"),
	}
	srv := rpc.NewServer()
	_ = srv.RegisterName("Session", &rpcHandler{session: ses})

	mux := http.NewServeMux()
	mux.Handle("/debug/vars", expvar.Handler())
	mux.HandleFunc("/ready", s.handleReady)
	mux.Handle("/", jsonrpc2.HTTPHandler(srv))
	s.httpServer = http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

type readiness struct {
	Engine   bool `json:"engine"`
	Torrents int  `json:"torrents"`
	Active   int  `json:"active"`
}

// handleReady responds with 503 until the engine accepts sessions.
func (s *rpcServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	st := s.session.Stats()
	resp := readiness{
		Engine:   s.session.engine.Ready(),
		Torrents: st.Torrents,
		Active:   st.Active,
	}
	w.Header().Set("Content-Type", "application/json")
	if !resp.Engine {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Debugln("cannot write readiness response:", err)
	}
}

// Start listens on host:port and serves in the background.
// A port of 0 picks a free port. See Addr.
func (s *rpcServer) Start(host string, port int) error {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Infoln("RPC server is listening on", listener.Addr().String())
	go s.serve()
	return nil
}

func (s *rpcServer) serve() {
	err := s.httpServer.Serve(s.listener)
	if err == http.ErrServerClosed {
		return
	}
	s.log.Errorln("RPC server stopped:", err)
	s.session.reportError(fmt.Errorf("rpc server: %w", err))
}

// Addr returns the address the server is listening on.
func (s *rpcServer) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop waits for running calls up to timeout.
func (s *rpcServer) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}
