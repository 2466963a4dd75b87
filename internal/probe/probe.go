package probe

// "The process is alive" and "the process is making progress" are
// different facts. The worker can sit wedged on a dead websocket for
// hours while its pid stays perfectly valid. The probe therefore reads
// externally observable progress signals and reports; it never kills
// anything. Acting on sustained unhealthiness is the monitor's job.

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/dropsentry/dropsentry/internal/config"
	"github.com/dropsentry/dropsentry/internal/status"
)

// Status is the tri-state probe outcome.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

// ExitCode maps the outcome to the monitor's polling contract:
// 0 healthy, 1 unhealthy, 2 probe error.
func (s Status) ExitCode() int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusUnhealthy:
		return 1
	default:
		return 2
	}
}

// CheckResult is the outcome of one individual signal check.
type CheckResult struct {
	Name   string `json:"name"`
	Status Status `json:"status"`
	Detail string `json:"detail"`
}

// Report aggregates all checks of one probe invocation.
type Report struct {
	Status Status        `json:"status"`
	Checks []CheckResult `json:"checks"`
}

// Checker runs one stateless probe invocation.
type Checker struct {
	cfg        config.ProbeConfig
	statusFile *status.File
	now        func() time.Time
}

// New creates a checker. statusFile may be nil to skip supervisor
// status checks (probe run outside a supervised container).
func New(cfg config.ProbeConfig, statusFile *status.File) *Checker {
	return &Checker{cfg: cfg, statusFile: statusFile, now: time.Now}
}

// Check runs every configured signal check within ctx's budget and
// aggregates: any error check dominates as probe-error unless a harder
// unhealthy signal was found; any unhealthy check makes the whole
// report unhealthy.
func (c *Checker) Check(ctx context.Context) Report {
	report := Report{Status: StatusHealthy}

	add := func(r CheckResult) {
		report.Checks = append(report.Checks, r)
		switch r.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusError:
			if report.Status == StatusHealthy {
				report.Status = StatusError
			}
		}
	}

	add(c.checkHeartbeat())

	if c.statusFile != nil {
		add(c.checkWorkerProcess(ctx))
	}

	if c.cfg.ConnectAddress != "" {
		add(c.checkConnectivity(ctx))
	}

	return report
}

// HeartbeatTime reads the worker's progress file. The worker writes
// unix epoch seconds into it every time drop progress is recorded; if
// the content is unparseable the file's mtime stands in.
func HeartbeatTime(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, err
	}
	if epoch, perr := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64); perr == nil {
		return time.Unix(epoch, 0), nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// checkHeartbeat verifies the worker's progress file is fresh. A stale
// or missing file means no forward progress.
func (c *Checker) checkHeartbeat() CheckResult {
	r := CheckResult{Name: "heartbeat"}

	beat, err := HeartbeatTime(c.cfg.HeartbeatFile)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Detail = fmt.Sprintf("heartbeat file unreadable: %v", err)
		return r
	}

	age := c.now().Sub(beat)
	if age > c.cfg.MaxHeartbeatAge {
		r.Status = StatusUnhealthy
		r.Detail = fmt.Sprintf("last progress %v ago, limit %v", age.Round(time.Second), c.cfg.MaxHeartbeatAge)
		return r
	}

	r.Status = StatusHealthy
	r.Detail = fmt.Sprintf("last progress %v ago", age.Round(time.Second))
	return r
}

// checkWorkerProcess verifies the pid published by the supervisor still
// refers to a live process.
func (c *Checker) checkWorkerProcess(ctx context.Context) CheckResult {
	r := CheckResult{Name: "worker_process"}

	rs, err := c.statusFile.Read()
	if err == status.ErrNoStatus {
		r.Status = StatusError
		r.Detail = "supervisor status not published yet"
		return r
	}
	if err != nil {
		r.Status = StatusError
		r.Detail = err.Error()
		return r
	}

	if rs.State != status.StateRunning {
		r.Status = StatusUnhealthy
		r.Detail = fmt.Sprintf("no run in progress (state=%s, cause=%s)", rs.State, rs.Cause)
		return r
	}

	exists, err := process.PidExistsWithContext(ctx, int32(rs.PID))
	if err != nil {
		r.Status = StatusError
		r.Detail = fmt.Sprintf("pid %d lookup failed: %v", rs.PID, err)
		return r
	}
	if !exists {
		r.Status = StatusUnhealthy
		r.Detail = fmt.Sprintf("worker pid %d is gone", rs.PID)
		return r
	}

	r.Status = StatusHealthy
	r.Detail = fmt.Sprintf("worker pid %d alive", rs.PID)
	return r
}

// checkConnectivity dials the platform endpoint the worker depends on.
func (c *Checker) checkConnectivity(ctx context.Context) CheckResult {
	r := CheckResult{Name: "connectivity"}

	d := net.Dialer{}
	conn, err := d.DialContext(ctx, "tcp", c.cfg.ConnectAddress)
	if err != nil {
		r.Status = StatusUnhealthy
		r.Detail = fmt.Sprintf("dial %s: %v", c.cfg.ConnectAddress, err)
		return r
	}
	conn.Close()

	r.Status = StatusHealthy
	r.Detail = "reachable: " + c.cfg.ConnectAddress
	return r
}
