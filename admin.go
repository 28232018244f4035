package basp

import (
	"context"
	"encoding/json"
	"expvar"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"time"
)

// AdminServer exposes operational endpoints for an Instance over HTTP.
// The /basp/* routes respond with JSON. Intended for admin/internal
// networks only.
// Grounded on the teacher's AdminServer: same net.Listener-first
// construction so callers can bind to ":0" in tests, same expvar/pprof
// wiring, trimmed to the routes/status this protocol core has.
type AdminServer struct {
	inst     *Instance
	metrics  *Metrics
	server   *http.Server
	listener net.Listener
}

// NewAdminServer creates an AdminServer bound to addr. metrics may be
// nil, in which case /basp/status omits the metrics field. The server
// is not started until Start is called.
func NewAdminServer(inst *Instance, metrics *Metrics, addr string) (*AdminServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	as := &AdminServer{
		inst:     inst,
		metrics:  metrics,
		listener: ln,
		server: &http.Server{
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 60 * time.Second,
		},
	}

	mux.HandleFunc("/basp/status", as.handleStatus)
	mux.HandleFunc("/basp/routes", as.handleRoutes)
	mux.HandleFunc("/debug/vars", expvar.Handler().ServeHTTP)
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	return as, nil
}

// Addr returns the listener's address (useful when binding to ":0").
func (as *AdminServer) Addr() string {
	return as.listener.Addr().String()
}

// Start begins serving HTTP requests. Non-blocking.
func (as *AdminServer) Start() {
	go func() {
		if err := as.server.Serve(as.listener); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()
	slog.Info("admin server started", "addr", as.Addr())
}

// Stop gracefully shuts down the admin server.
func (as *AdminServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	as.server.Shutdown(ctx)
}

type statusResponse struct {
	ThisNode    string           `json:"this_node"`
	RoutesCount int              `json:"routes_count"`
	Metrics     map[string]int64 `json:"metrics,omitempty"`
}

func (as *AdminServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := statusResponse{
		ThisNode:    as.inst.ThisNode().String(),
		RoutesCount: as.inst.RoutingTable().RouteCount(),
	}
	if as.metrics != nil {
		resp.Metrics = as.metrics.Snapshot()
	}
	writeJSON(w, resp)
}

type routeEntry struct {
	Node   string `json:"node"`
	Handle string `json:"handle"`
}

type routesResponse struct {
	Routes []routeEntry `json:"routes"`
}

func (as *AdminServer) handleRoutes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	direct := as.inst.RoutingTable().DirectRoutes()
	entries := make([]routeEntry, 0, len(direct))
	for node, handle := range direct {
		entries = append(entries, routeEntry{Node: node.String(), Handle: handle.String()})
	}
	writeJSON(w, routesResponse{Routes: entries})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("admin: json encode error", "error", err)
	}
}
