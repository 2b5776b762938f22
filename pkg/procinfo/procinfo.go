/*
Package procinfo writes the periodic process-info JSON file and
detects an abrupt previous stop on startup, by reading any
pre-existing info file and checking whether its pid still corresponds
to a running process. It follows the
same "stat-then-write, os.Getpid()-keyed" pattern a liveness-file
writer would use, adapted from a simple up/down flag into the richer
disposition record recorded here.
*/
package procinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"syscall"
	"time"
)

// Disposition records how the previous (or current) run ended.
type Disposition struct {
	StoppedAt          time.Time `json:"stoppedAt"`
	Uptime             string    `json:"uptime"`
	Reloading          bool      `json:"reloading,omitempty"`
	ShutdownRequested  bool      `json:"shutdownRequested,omitempty"`
	AbruptlyStopped    bool      `json:"abruptlyStopped,omitempty"`
}

// Info is the JSON document written to the process-info file.
type Info struct {
	PID         int          `json:"pid"`
	PPID        int          `json:"ppid"`
	StartedAt   time.Time    `json:"startedAt"`
	Product     string       `json:"product"`
	Disposition *Disposition `json:"disposition,omitempty"`
	MemoryUsage uint64       `json:"memoryUsage"`
	Uptime      string       `json:"uptime"`
	EarlierRuns []Info       `json:"earlierRuns,omitempty"`
}

// Writer periodically writes the process-info file and tracks
// disposition transitions.
type Writer struct {
	path      string
	product   string
	startedAt time.Time
}

// New constructs a Writer for the given product name, writing to path.
func New(path, product string) *Writer {
	return &Writer{path: path, product: product, startedAt: time.Now()}
}

// CheckPreviousRun reads any pre-existing info file at path and returns
// its Info, or nil if there is no such file. If that Info has no
// disposition and its pid no longer corresponds to a running process,
// the file is first rewritten with disposition.abruptlyStopped=true and
// the returned Info carries that disposition.
func (w *Writer) CheckPreviousRun() (*Info, error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("procinfo: reading previous info file: %w", err)
	}

	var prev Info
	if err := json.Unmarshal(data, &prev); err != nil {
		return nil, fmt.Errorf("procinfo: parsing previous info file: %w", err)
	}

	if prev.Disposition != nil || !processAlive(prev.PID) {
		if prev.Disposition == nil {
			prev.Disposition = &Disposition{AbruptlyStopped: true, StoppedAt: time.Now()}
			rewritten, _ := json.MarshalIndent(prev, "", "  ")
			_ = os.WriteFile(w.path, rewritten, 0o644)
		}
	}

	return &prev, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 checks liveness
	// without actually signaling the process.
	return proc.Signal(syscall.Signal(0)) == nil
}

// WriteRunning writes the current snapshot with no disposition (the
// process is still up).
func (w *Writer) WriteRunning(earlierRuns []Info) error {
	return w.write(nil, earlierRuns)
}

// WriteStopped writes the final snapshot with the given disposition,
// for use at shutdown.
func (w *Writer) WriteStopped(d Disposition) error {
	return w.write(&d, nil)
}

func (w *Writer) write(d *Disposition, earlierRuns []Info) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	info := Info{
		PID:         os.Getpid(),
		PPID:        os.Getppid(),
		StartedAt:   w.startedAt,
		Product:     w.product,
		Disposition: d,
		MemoryUsage: mem.Alloc,
		Uptime:      time.Since(w.startedAt).String(),
		EarlierRuns: earlierRuns,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("procinfo: marshaling info: %w", err)
	}
	if err := os.WriteFile(w.path, data, 0o644); err != nil {
		return fmt.Errorf("procinfo: writing info file: %w", err)
	}
	return nil
}

// Run periodically writes the running snapshot until stopCh is
// closed.
func (w *Writer) Run(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			_ = w.WriteRunning(nil)
		}
	}
}
