package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/redox-os/ipcd/internal/logger"
	"github.com/redox-os/ipcd/reactor"
)

// diagTimeout bounds how long an HTTP handler waits for a snapshot
// round-trip before reporting the reactor as unresponsive: logging rather
// than blocking if the reactor is wedged applies here the same as it does
// for the stats ticker.
const diagTimeout = 2 * time.Second

// newDiagServer builds the read-only diagnostics HTTP surface, mirroring
// lxd's mux-routed handler table (lxd/daemon.go, lxd/api.go) reduced to
// GET-only introspection endpoints.
func newDiagServer(addr string, d *Daemon) *http.Server {
	r := mux.NewRouter()
	r.HandleFunc("/1.0", d.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/1.0/chan", d.handleChanSnapshot).Methods(http.MethodGet)
	r.HandleFunc("/1.0/shm", d.handleShmSnapshot).Methods(http.MethodGet)

	return &http.Server{Addr: addr, Handler: r}
}

type rootResponse struct {
	ID       string `json:"id"`
	UptimeMS int64  `json:"uptime_ms"`
	Chan     string `json:"chan_scheme"`
	Shm      string `json:"shm_scheme"`
}

func (d *Daemon) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, rootResponse{
		ID:       d.id,
		UptimeMS: time.Since(d.start).Milliseconds(),
		Chan:     "mounted",
		Shm:      "mounted",
	})
}

func (d *Daemon) handleChanSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), diagTimeout)
	defer cancel()

	snap, err := d.loop.ChanSnapshot(ctx)
	if err != nil {
		writeSnapshotError(w, "chan", err)
		return
	}

	writeJSON(w, snap)
}

func (d *Daemon) handleShmSnapshot(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), diagTimeout)
	defer cancel()

	snap, err := d.loop.ShmSnapshot(ctx)
	if err != nil {
		writeSnapshotError(w, "shm", err)
		return
	}

	writeJSON(w, snap)
}

func writeSnapshotError(w http.ResponseWriter, scheme string, err error) {
	logger.Warn("diagnostics snapshot failed", logger.Ctx{"scheme": scheme, "err": err})

	status := http.StatusInternalServerError
	if err == reactor.ErrSnapshotTimeout {
		status = http.StatusGatewayTimeout
	}

	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
