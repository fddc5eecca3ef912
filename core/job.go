package core

import (
	"sync"
	"time"
)

// Default polling cadences. Charging switches to the fast cadence while a
// session is active.
const (
	DrivingRangeInterval   = 10 * time.Minute
	OdometerInterval       = time.Hour
	EvBatteryInterval      = 10 * time.Minute
	EvChargingInterval     = 10 * time.Minute
	EvChargingFastInterval = time.Minute
	WarningsInterval       = time.Hour
)

// runFunc polls one api category for the given car. It returns the fields to
// merge and whether the job's fast-cadence condition currently holds.
type runFunc func(carID string) (map[string]Value, bool, error)

// Job is one independently scheduled polling unit. The mutex guards against
// concurrent runs of the same job; status bookkeeping has its own lock so
// that readers are not blocked by an in-flight poll.
type Job struct {
	Name         string
	Interval     time.Duration
	FastInterval time.Duration

	run runFunc

	mu sync.Mutex // in-flight guard

	statusMu    sync.Mutex
	lastRun     time.Time
	lastSuccess time.Time
	lastError   error
	fast        bool
}

// JobStatus is the job bookkeeping exposed over the api
type JobStatus struct {
	Name        string        `json:"name"`
	Interval    time.Duration `json:"interval"`
	Fast        bool          `json:"fast"`
	LastRun     time.Time     `json:"lastRun"`
	LastSuccess time.Time     `json:"lastSuccess"`
	LastError   string        `json:"lastError,omitempty"`
}

// NextInterval returns the cadence for the next tick
func (j *Job) NextInterval() time.Duration {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()

	if j.fast && j.FastInterval > 0 {
		return j.FastInterval
	}
	return j.Interval
}

// Status returns a copy of the job bookkeeping
func (j *Job) Status() JobStatus {
	j.statusMu.Lock()
	defer j.statusMu.Unlock()

	res := JobStatus{
		Name:        j.Name,
		Interval:    j.Interval,
		Fast:        j.fast,
		LastRun:     j.lastRun,
		LastSuccess: j.lastSuccess,
	}
	if j.lastError != nil {
		res.LastError = j.lastError.Error()
	}

	return res
}

func (j *Job) started(now time.Time) {
	j.statusMu.Lock()
	j.lastRun = now
	j.statusMu.Unlock()
}

// fail records the error and drops back to the normal cadence. A throttled
// or failing job never polls fast.
func (j *Job) fail(err error) {
	j.statusMu.Lock()
	j.lastError = err
	j.fast = false
	j.statusMu.Unlock()
}

func (j *Job) succeed(now time.Time, fast bool) {
	j.statusMu.Lock()
	j.lastError = nil
	j.lastSuccess = now
	j.fast = fast && j.FastInterval > 0
	j.statusMu.Unlock()
}
