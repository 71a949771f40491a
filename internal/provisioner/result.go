package provisioner

import (
	"time"

	"github.com/terabiome/clusterup/internal/backend"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusStopped   Status = "stopped"
	StatusDestroyed Status = "destroyed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Result is the final outcome for one instance. It is written once and not
// changed afterwards.
type Result struct {
	Index    int
	Instance string
	Status   Status
	Handle   backend.Handle
	// Attempts counts backend calls, retries included.
	Attempts int
	Duration time.Duration
	Err      error
}

func (r Result) Succeeded() bool {
	return r.Status != StatusFailed && r.Status != StatusSkipped
}

// Report holds one result per planned instance, in plan order.
type Report struct {
	Operation string
	Results   []Result
	Duration  time.Duration
}

func (r *Report) count(match func(Result) bool) int {
	n := 0
	for _, res := range r.Results {
		if match(res) {
			n++
		}
	}
	return n
}

func (r *Report) Succeeded() int {
	return r.count(Result.Succeeded)
}

func (r *Report) Failed() int {
	return r.count(func(res Result) bool { return res.Status == StatusFailed })
}

func (r *Report) Skipped() int {
	return r.count(func(res Result) bool { return res.Status == StatusSkipped })
}

// OK reports whether every instance succeeded.
func (r *Report) OK() bool {
	return r.Succeeded() == len(r.Results)
}

func (r *Report) ExitCode() int {
	if r.OK() {
		return 0
	}
	return 1
}
