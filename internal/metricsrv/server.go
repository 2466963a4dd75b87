package metricsrv

// Optional HTTP sidecar served for the lifetime of one bounded run.
// Everything here is observation; none of it participates in the
// restart contract, which rides entirely on exit codes.

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/dropsentry/dropsentry/internal/logging"
	"github.com/dropsentry/dropsentry/internal/probe"
	"github.com/dropsentry/dropsentry/internal/status"
)

// Server exposes /metrics, /healthz and /status while the worker runs.
type Server struct {
	httpSrv     *http.Server
	checker     *probe.Checker
	statusFile  *status.File
	probeBudget time.Duration
	logger      *logging.Logger

	registry *prometheus.Registry

	mu        sync.RWMutex
	workerPID int

	deadlineSeconds prometheus.Gauge
	runStart        prometheus.Gauge
	workerUp        prometheus.GaugeFunc
	heartbeatAge    prometheus.GaugeFunc
}

// New builds the sidecar. heartbeatFile feeds the heartbeat age gauge.
func New(listen string, checker *probe.Checker, statusFile *status.File, heartbeatFile string, probeBudget time.Duration, logger *logging.Logger) *Server {
	s := &Server{
		checker:     checker,
		statusFile:  statusFile,
		probeBudget: probeBudget,
		logger:      logger,
		registry:    prometheus.NewRegistry(),
	}

	s.deadlineSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropsentry_deadline_seconds",
		Help: "Deadline allotted to the current bounded run.",
	})
	s.runStart = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dropsentry_run_start_timestamp_seconds",
		Help: "Unix time the current run started.",
	})
	s.workerUp = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dropsentry_worker_up",
		Help: "Whether the supervised worker process is alive.",
	}, func() float64 {
		s.mu.RLock()
		pid := s.workerPID
		s.mu.RUnlock()
		if pid == 0 {
			return 0
		}
		if ok, err := process.PidExists(int32(pid)); err == nil && ok {
			return 1
		}
		return 0
	})
	s.heartbeatAge = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dropsentry_heartbeat_age_seconds",
		Help: "Age of the worker's progress heartbeat file.",
	}, func() float64 {
		beat, err := probe.HeartbeatTime(heartbeatFile)
		if err != nil {
			return -1
		}
		return time.Since(beat).Seconds()
	})

	s.registry.MustRegister(s.deadlineSeconds, s.runStart, s.workerUp, s.heartbeatAge)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:              listen,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetRun publishes the current run's deadline and start time.
func (s *Server) SetRun(deadline time.Duration, startedAt time.Time) {
	s.deadlineSeconds.Set(deadline.Seconds())
	s.runStart.Set(float64(startedAt.Unix()))
}

// SetWorkerPID publishes the worker's pid; zero means no worker.
func (s *Server) SetWorkerPID(pid int) {
	s.mu.Lock()
	s.workerPID = pid
	s.mu.Unlock()
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Warn("metrics sidecar stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	s.logger.Info("metrics sidecar listening", map[string]interface{}{"addr": s.httpSrv.Addr})
}

// Shutdown stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpSrv.Handler
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.probeBudget)
	defer cancel()

	report := s.checker.Check(ctx)

	code := http.StatusOK
	if report.Status != probe.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	rs, err := s.statusFile.Read()
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rs)
}
