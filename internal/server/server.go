// Package server exposes node state over HTTP: a JSON status document,
// Prometheus metrics, device register access and a websocket traffic tap.
package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/notnil/h9can/h9"
	"github.com/notnil/h9can/internal/device"
)

// WatchLister reports the configured remote watch slots.
type WatchLister interface {
	Watches() []h9.Watch
}

// Options wires the handler to a running node. Bank, Watches, Gatherer and
// Tap are optional.
type Options struct {
	Stack    *h9.Stack
	Bank     *device.Bank
	Watches  WatchLister
	Gatherer prometheus.Gatherer
	Tap      *Tap
	Logger   zerolog.Logger
}

type server struct {
	opts Options
}

// NewHandler returns the HTTP handler of the node.
func NewHandler(opts Options) http.Handler {
	s := &server{opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Logger))

	r.Get("/status", s.status)
	r.Get("/registers", s.listRegisters)
	r.Get("/registers/{index}", s.getRegister)
	r.Put("/registers/{index}", s.putRegister)
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}
	if opts.Tap != nil {
		r.Handle("/frames", opts.Tap)
	}
	return r
}

func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			event := logger.Debug()
			if status >= 500 {
				event = logger.Error()
			} else if status >= 400 {
				event = logger.Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration", time.Since(start)).
				Int("bytes", ww.BytesWritten()).
				Msg("http_request")
		})
	}
}

// Status is the document served on /status.
type Status struct {
	Address     uint16          `json:"address"`
	NodeType    uint16          `json:"node_type"`
	HWRevision  string          `json:"hardware_revision"`
	Version     string          `json:"version"`
	BuildInfo   string          `json:"build_info,omitempty"`
	MCUType     uint8           `json:"mcu_type"`
	ResetReason string          `json:"reset_reason"`
	PendingRX   int             `json:"pending_rx"`
	PendingTX   int             `json:"pending_tx"`
	Watches     []h9.Watch      `json:"watches,omitempty"`
	Registers   []RegisterValue `json:"registers,omitempty"`
}

// RegisterValue is a device register with its value in hex.
type RegisterValue struct {
	Index    uint8  `json:"index"`
	Value    string `json:"value"`
	Writable bool   `json:"writable"`
}

func (s *server) status(w http.ResponseWriter, r *http.Request) {
	node := s.opts.Stack.Node()
	id := node.Identity()
	rx, tx := s.opts.Stack.Pending()
	st := Status{
		Address:     node.Address(),
		NodeType:    id.NodeType,
		HWRevision:  string(rune(id.HardwareRevision)),
		Version:     strconv.Itoa(int(id.VersionMajor)) + "." + strconv.Itoa(int(id.VersionMinor)),
		BuildInfo:   id.BuildInfo,
		MCUType:     id.MCUType,
		ResetReason: id.ResetReason.String(),
		PendingRX:   rx,
		PendingTX:   tx,
		Registers:   s.registers(),
	}
	if s.opts.Watches != nil {
		st.Watches = s.opts.Watches.Watches()
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *server) registers() []RegisterValue {
	if s.opts.Bank == nil {
		return nil
	}
	snap := s.opts.Bank.Snapshot()
	out := make([]RegisterValue, 0, len(snap))
	for _, r := range snap {
		out = append(out, RegisterValue{Index: r.Index, Value: hex.EncodeToString(r.Value), Writable: r.Writable})
	}
	return out
}

func (s *server) listRegisters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registers())
}

func (s *server) registerIndex(w http.ResponseWriter, r *http.Request) (uint8, bool) {
	if s.opts.Bank == nil {
		writeError(w, http.StatusNotFound, "no device registers")
		return 0, false
	}
	idx, err := strconv.ParseUint(chi.URLParam(r, "index"), 10, 8)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid register index")
		return 0, false
	}
	return uint8(idx), true
}

func (s *server) getRegister(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.registerIndex(w, r)
	if !ok {
		return
	}
	v, err := s.opts.Bank.Read(idx)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, RegisterValue{Index: idx, Value: hex.EncodeToString(v)})
}

// putRegister sets a device register from the node side and broadcasts
// REG_INTERNALLY_CHANGED.
func (s *server) putRegister(w http.ResponseWriter, r *http.Request) {
	idx, ok := s.registerIndex(w, r)
	if !ok {
		return
	}
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	v, err := hex.DecodeString(body.Value)
	if err != nil {
		writeError(w, http.StatusBadRequest, "value must be hex")
		return
	}
	switch err := s.opts.Bank.Update(s.opts.Stack, idx, v); {
	case errors.Is(err, device.ErrUnknownRegister):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, device.ErrSizeMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, RegisterValue{Index: idx, Value: hex.EncodeToString(v)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
