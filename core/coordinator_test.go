package core

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
	"github.com/bluelink-kr/bluelinkd/vehicle/bluelink"
)

// stubAPI returns canned results per category; nil funcs yield zero values
type stubAPI struct {
	drivingRange func() (bluelink.DrivingRange, error)
	odometer     func() (bluelink.OdometerList, error)
	evBattery    func() (bluelink.EvBattery, error)
	evCharging   func() (bluelink.EvCharging, error)
	warnings     func() (bluelink.Warnings, error)
}

func (s *stubAPI) DrivingRange(string) (bluelink.DrivingRange, error) {
	if s.drivingRange == nil {
		return bluelink.DrivingRange{}, nil
	}
	return s.drivingRange()
}

func (s *stubAPI) Odometer(string) (bluelink.OdometerList, error) {
	if s.odometer == nil {
		return bluelink.OdometerList{}, nil
	}
	return s.odometer()
}

func (s *stubAPI) EvBattery(string) (bluelink.EvBattery, error) {
	if s.evBattery == nil {
		return bluelink.EvBattery{}, nil
	}
	return s.evBattery()
}

func (s *stubAPI) EvCharging(string) (bluelink.EvCharging, error) {
	if s.evCharging == nil {
		return bluelink.EvCharging{}, nil
	}
	return s.evCharging()
}

func (s *stubAPI) Warnings(string) (bluelink.Warnings, error) {
	if s.warnings == nil {
		return bluelink.Warnings{}, nil
	}
	return s.warnings()
}

func testCoordinator(t *testing.T, stub *stubAPI, carType api.CarType) (*Coordinator, *Snapshot, *clock.Mock) {
	t.Helper()

	mock := clock.NewMock()
	snapshot := NewSnapshot(mock, nil)

	vehicle := api.Vehicle{CarID: "car-1", Nickname: "test", Type: carType}

	c := NewCoordinator(util.NewLogger("test"), stub, vehicle, snapshot)
	c.clock = mock

	return c, snapshot, mock
}

func (c *Coordinator) job(t *testing.T, name string) *Job {
	t.Helper()

	for _, j := range c.jobs {
		if j.Name == name {
			return j
		}
	}

	t.Fatalf("no job %s", name)
	return nil
}

func TestJobSet(t *testing.T) {
	names := func(c *Coordinator) []string {
		var res []string
		for _, j := range c.jobs {
			res = append(res, j.Name)
		}
		return res
	}

	ev, _, _ := testCoordinator(t, &stubAPI{}, api.CarTypeEV)
	require.Equal(t, []string{"driving_range", "odometer", "ev_battery", "ev_charging", "warnings"}, names(ev))

	ice, _, _ := testCoordinator(t, &stubAPI{}, api.CarTypeICE)
	require.Equal(t, []string{"driving_range", "odometer", "warnings"}, names(ice))
}

func TestPollMergesSnapshot(t *testing.T) {
	stub := &stubAPI{
		drivingRange: func() (bluelink.DrivingRange, error) {
			return bluelink.DrivingRange{Value: 321.5, Unit: 1}, nil
		},
	}

	c, snapshot, _ := testCoordinator(t, stub, api.CarTypeEV)
	c.runJob(c.job(t, "driving_range"))

	v, ok := snapshot.Read(FieldDrivingRange)
	require.True(t, ok)
	require.Equal(t, 321.5, v.Value)
	require.Equal(t, "km", v.Unit)
}

func TestFailedPollKeepsSnapshot(t *testing.T) {
	var fail int32

	stub := &stubAPI{
		evBattery: func() (bluelink.EvBattery, error) {
			if atomic.LoadInt32(&fail) == 1 {
				return bluelink.EvBattery{}, api.ErrUpstream
			}
			return bluelink.EvBattery{Soc: 50}, nil
		},
	}

	c, snapshot, mock := testCoordinator(t, stub, api.CarTypeEV)
	j := c.job(t, "ev_battery")

	c.runJob(j)

	v, ok := snapshot.Read(FieldEvSoc)
	require.True(t, ok)
	stamped := v.UpdatedAt

	atomic.StoreInt32(&fail, 1)
	mock.Add(10 * time.Minute)
	c.runJob(j)

	// value and timestamp survive the failure
	v, ok = snapshot.Read(FieldEvSoc)
	require.True(t, ok)
	require.Equal(t, 50.0, v.Value)
	require.Equal(t, stamped, v.UpdatedAt)

	status := j.Status()
	require.NotEmpty(t, status.LastError)
	require.Equal(t, mock.Now(), status.LastRun)
	require.Equal(t, stamped, status.LastSuccess)
}

func TestChargingFastCadence(t *testing.T) {
	var charging, fail int32

	stub := &stubAPI{
		evCharging: func() (bluelink.EvCharging, error) {
			if atomic.LoadInt32(&fail) == 1 {
				return bluelink.EvCharging{}, api.ErrUpstream
			}
			return bluelink.EvCharging{BatteryCharge: atomic.LoadInt32(&charging) == 1, BatteryPlugin: 1}, nil
		},
	}

	c, _, _ := testCoordinator(t, stub, api.CarTypeEV)
	j := c.job(t, "ev_charging")

	require.Equal(t, EvChargingInterval, j.NextInterval())

	// active session switches to the fast cadence
	atomic.StoreInt32(&charging, 1)
	c.runJob(j)
	require.Equal(t, EvChargingFastInterval, j.NextInterval())

	// session end switches back
	atomic.StoreInt32(&charging, 0)
	c.runJob(j)
	require.Equal(t, EvChargingInterval, j.NextInterval())

	// a failure never polls fast
	atomic.StoreInt32(&charging, 1)
	c.runJob(j)
	require.Equal(t, EvChargingFastInterval, j.NextInterval())

	atomic.StoreInt32(&fail, 1)
	c.runJob(j)
	require.Equal(t, EvChargingInterval, j.NextInterval())
}

func TestRateLimitedPoll(t *testing.T) {
	stub := &stubAPI{
		evCharging: func() (bluelink.EvCharging, error) {
			return bluelink.EvCharging{}, api.ErrRateLimited
		},
	}

	c, snapshot, _ := testCoordinator(t, stub, api.CarTypeEV)
	j := c.job(t, "ev_charging")

	c.runJob(j)

	// throttling keeps the normal cadence and leaves the snapshot empty
	require.Equal(t, EvChargingInterval, j.NextInterval())
	require.Empty(t, snapshot.All())
	require.Contains(t, j.Status().LastError, "rate limited")
	require.False(t, c.ReauthRequired())
}

func TestReauthSurfaced(t *testing.T) {
	fail := int32(1)

	stub := &stubAPI{
		drivingRange: func() (bluelink.DrivingRange, error) {
			if atomic.LoadInt32(&fail) == 1 {
				return bluelink.DrivingRange{}, api.ErrReauthRequired
			}
			return bluelink.DrivingRange{Value: 100, Unit: 1}, nil
		},
	}

	c, _, _ := testCoordinator(t, stub, api.CarTypeEV)
	j := c.job(t, "driving_range")

	c.runJob(j)
	require.True(t, c.ReauthRequired())

	// a successful poll clears the flag
	atomic.StoreInt32(&fail, 0)
	c.runJob(j)
	require.False(t, c.ReauthRequired())
}

func TestFailureIsolation(t *testing.T) {
	stub := &stubAPI{
		drivingRange: func() (bluelink.DrivingRange, error) {
			return bluelink.DrivingRange{}, api.ErrUpstream
		},
		evBattery: func() (bluelink.EvBattery, error) {
			return bluelink.EvBattery{Soc: 42}, nil
		},
	}

	c, snapshot, _ := testCoordinator(t, stub, api.CarTypeEV)

	c.runJob(c.job(t, "driving_range"))
	c.runJob(c.job(t, "ev_battery"))

	_, ok := snapshot.Read(FieldDrivingRange)
	require.False(t, ok)

	v, ok := snapshot.Read(FieldEvSoc)
	require.True(t, ok)
	require.Equal(t, 42.0, v.Value)
}

func TestRefreshAllSkipsInFlight(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})

	stub := &stubAPI{
		odometer: func() (bluelink.OdometerList, error) {
			atomic.AddInt32(&calls, 1)
			close(started)
			<-release
			return bluelink.OdometerList{}, nil
		},
	}

	c, _, _ := testCoordinator(t, stub, api.CarTypeICE)
	j := c.job(t, "odometer")

	done := make(chan struct{})
	go func() {
		c.runJob(j)
		close(done)
	}()

	<-started

	// the in-flight run satisfies the trigger, no second call is issued
	c.runJob(j)
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))

	close(release)
	<-done
	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOdometerEmptyHistory(t *testing.T) {
	stub := &stubAPI{
		odometer: func() (bluelink.OdometerList, error) {
			return bluelink.OdometerList{}, nil
		},
	}

	c, snapshot, _ := testCoordinator(t, stub, api.CarTypeICE)
	j := c.job(t, "odometer")

	c.runJob(j)

	// an empty history is a successful poll without fields
	require.Empty(t, j.Status().LastError)
	_, ok := snapshot.Read(FieldOdometer)
	require.False(t, ok)
}
