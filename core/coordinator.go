package core

import (
	"errors"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

// VehicleAPI is the subset of the vendor client used by the polling jobs
type VehicleAPI interface {
	DrivingRange(carID string) (bluelink.DrivingRange, error)
	Odometer(carID string) (bluelink.OdometerList, error)
	EvBattery(carID string) (bluelink.EvBattery, error)
	EvCharging(carID string) (bluelink.EvCharging, error)
	Warnings(carID string) (bluelink.Warnings, error)
}

// Coordinator drives the polling jobs for one selected vehicle. Each job
// runs on its own timer; one job's failure or cadence switch never affects
// another job's schedule. One coordinator instance per account - there is no
// process-wide state.
type Coordinator struct {
	log      *util.Logger
	clock    clock.Clock
	api      VehicleAPI
	vehicle  api.Vehicle
	snapshot *Snapshot
	jobs     []*Job

	mu     sync.Mutex
	reauth bool
}

// NewCoordinator creates a coordinator with the fixed job set for the given
// vehicle. EV jobs are only scheduled for EV-capable car types.
func NewCoordinator(log *util.Logger, vehicleAPI VehicleAPI, vehicle api.Vehicle, snapshot *Snapshot) *Coordinator {
	c := &Coordinator{
		log:      log,
		clock:    clock.New(),
		api:      vehicleAPI,
		vehicle:  vehicle,
		snapshot: snapshot,
	}

	c.jobs = []*Job{
		c.drivingRangeJob(),
		c.odometerJob(),
	}

	if vehicle.Type.EvCapable() {
		c.jobs = append(c.jobs, c.evBatteryJob(), c.evChargingJob())
	}

	c.jobs = append(c.jobs, c.warningsJob())

	return c
}

// Vehicle returns the selected vehicle
func (c *Coordinator) Vehicle() api.Vehicle {
	return c.vehicle
}

// Status returns the bookkeeping of all jobs
func (c *Coordinator) Status() []JobStatus {
	res := make([]JobStatus, 0, len(c.jobs))
	for _, j := range c.jobs {
		res = append(res, j.Status())
	}
	return res
}

// ReauthRequired returns true once a poll failed because the user must log
// in again
func (c *Coordinator) ReauthRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reauth
}

// Run starts one timer loop per job and blocks until stopC is closed
func (c *Coordinator) Run(stopC <-chan struct{}) {
	var wg sync.WaitGroup

	for _, j := range c.jobs {
		wg.Add(1)
		go func(j *Job) {
			defer wg.Done()
			c.loop(j, stopC)
		}(j)
	}

	wg.Wait()
}

// RefreshAll runs every job immediately regardless of its timer. A job that
// is already mid-flight is not re-issued; the in-flight run satisfies the
// trigger.
func (c *Coordinator) RefreshAll() {
	c.log.DEBUG.Println("manual refresh")
	for _, j := range c.jobs {
		go c.runJob(j)
	}
}

func (c *Coordinator) loop(j *Job, stopC <-chan struct{}) {
	c.runJob(j)

	for {
		timer := c.clock.Timer(j.NextInterval())
		select {
		case <-stopC:
			timer.Stop()
			return
		case <-timer.C:
			c.runJob(j)
		}
	}
}

// runJob executes a single poll. A job issues at most one call at a time.
func (c *Coordinator) runJob(j *Job) {
	if !j.mu.TryLock() {
		return
	}
	defer j.mu.Unlock()

	j.started(c.clock.Now())

	fields, fast, err := j.run(c.vehicle.CarID)
	if err != nil {
		j.fail(err)

		switch {
		case errors.Is(err, api.ErrReauthRequired):
			c.setReauth(true)
			c.log.ERROR.Printf("%s: %v - log in again to resume polling", j.Name, err)
		case errors.Is(err, api.ErrRateLimited):
			c.log.WARN.Printf("%s: %v", j.Name, err)
		case errors.Is(err, api.ErrVehicleNotFound):
			c.log.WARN.Printf("%s: vehicle %s missing from account: %v", j.Name, c.vehicle.CarID, err)
		default:
			c.log.ERROR.Printf("%s: %v", j.Name, err)
		}

		return
	}

	c.setReauth(false)
	j.succeed(c.clock.Now(), fast)
	c.snapshot.Merge(j.Name, fields)
}

func (c *Coordinator) setReauth(reauth bool) {
	c.mu.Lock()
	c.reauth = reauth
	c.mu.Unlock()
}

func (c *Coordinator) drivingRangeJob() *Job {
	return &Job{
		Name:     "driving_range",
		Interval: DrivingRangeInterval,
		run: func(carID string) (map[string]Value, bool, error) {
			res, err := c.api.DrivingRange(carID)
			if err != nil {
				return nil, false, err
			}

			fields := map[string]Value{
				FieldDrivingRange: {Value: res.Value, Unit: bluelink.Unit(res.Unit)},
			}
			if res.PhevTotalValue > 0 {
				fields[FieldDrivingRangePhev] = Value{Value: res.PhevTotalValue, Unit: bluelink.Unit(res.PhevTotalUnit)}
			}

			return fields, false, nil
		},
	}
}

func (c *Coordinator) odometerJob() *Job {
	return &Job{
		Name:     "odometer",
		Interval: OdometerInterval,
		run: func(carID string) (map[string]Value, bool, error) {
			res, err := c.api.Odometer(carID)
			if err != nil {
				return nil, false, err
			}

			latest, ok := res.Latest()
			if !ok {
				return nil, false, nil
			}

			return map[string]Value{
				FieldOdometer: {Value: latest.Value, Unit: bluelink.Unit(latest.Unit)},
			}, false, nil
		},
	}
}

func (c *Coordinator) evBatteryJob() *Job {
	return &Job{
		Name:     "ev_battery",
		Interval: EvBatteryInterval,
		run: func(carID string) (map[string]Value, bool, error) {
			res, err := c.api.EvBattery(carID)
			if err != nil {
				return nil, false, err
			}

			return map[string]Value{
				FieldEvSoc: {Value: res.Soc, Unit: "%"},
			}, false, nil
		},
	}
}

func (c *Coordinator) evChargingJob() *Job {
	return &Job{
		Name:         "ev_charging",
		Interval:     EvChargingInterval,
		FastInterval: EvChargingFastInterval,
		run: func(carID string) (map[string]Value, bool, error) {
			res, err := c.api.EvCharging(carID)
			if err != nil {
				return nil, false, err
			}

			fields := map[string]Value{
				FieldChargingState:    {Value: res.BatteryCharge},
				FieldPluggedIn:        {Value: res.BatteryPlugin > 0},
				FieldChargeRemainTime: {Value: res.RemainTime.Value, Unit: "min"},
				FieldTargetSoc:        {Value: res.TargetSOC.TargetSOClevel, Unit: "%"},
			}

			// active session switches this job to the fast cadence
			return fields, res.BatteryCharge, nil
		},
	}
}

func (c *Coordinator) warningsJob() *Job {
	return &Job{
		Name:     "warnings",
		Interval: WarningsInterval,
		run: func(carID string) (map[string]Value, bool, error) {
			res, err := c.api.Warnings(carID)
			if err != nil {
				return nil, false, err
			}

			active := res.Active()

			return map[string]Value{
				FieldWarningLamp:  {Value: len(active) > 0},
				FieldWarningLamps: {Value: active},
			}, false, nil
		},
	}
}
