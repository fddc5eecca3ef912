package core

import (
	"fmt"

	"github.com/thoas/go-funk"

	"github.com/bluelink-kr/bluelinkd/api"
	"github.com/bluelink-kr/bluelinkd/util"
)

// Store persists vehicle descriptors between runs
type Store interface {
	Vehicles() ([]api.Vehicle, error)
	SaveVehicles([]api.Vehicle) error
}

// Registry reconciles the vendor's vehicle list against the stored
// descriptors. Vehicles missing from the account are disabled, never
// deleted; their configuration and history survive a temporary drop.
type Registry struct {
	log   *util.Logger
	store Store
	list  func() ([]api.Vehicle, error)
}

// NewRegistry creates a vehicle registry
func NewRegistry(log *util.Logger, store Store, list func() ([]api.Vehicle, error)) *Registry {
	return &Registry{
		log:   log,
		store: store,
		list:  list,
	}
}

// Resync fetches the current vehicle list and diffs it against storage by
// car id. New ids become candidates, changed nicknames and types update the
// descriptor, missing ids are flagged disabled. The selection is never
// changed here.
func (r *Registry) Resync() ([]api.Vehicle, error) {
	fetched, err := r.list()
	if err != nil {
		return nil, fmt.Errorf("cannot get vehicles: %w", err)
	}

	stored, err := r.store.Vehicles()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]api.Vehicle, len(fetched))
	for _, v := range fetched {
		byID[v.CarID] = v
	}

	storedIDs := funk.Map(stored, func(v api.Vehicle) string {
		return v.CarID
	}).([]string)

	res := make([]api.Vehicle, 0, len(stored)+len(fetched))

	for _, v := range stored {
		if cur, ok := byID[v.CarID]; ok {
			if v.Nickname != cur.Nickname || v.Type != cur.Type {
				r.log.INFO.Printf("vehicle %s: updating %s (%s)", v.CarID, cur.Nickname, cur.Type)
			}
			v.Nickname = cur.Nickname
			v.Type = cur.Type
			if cur.VIN != "" {
				v.VIN = cur.VIN
			}
			v.Disabled = false
		} else if !v.Disabled {
			r.log.WARN.Printf("vehicle %s missing from account - disabling", v.CarID)
			v.Disabled = true
		}

		res = append(res, v)
	}

	for _, v := range fetched {
		if !funk.ContainsString(storedIDs, v.CarID) {
			r.log.INFO.Printf("vehicle %s: new candidate %s (%s)", v.CarID, v.Nickname, v.Type)
			res = append(res, v)
		}
	}

	if err := r.store.SaveVehicles(res); err != nil {
		return nil, err
	}

	return res, nil
}

// EnsureSelected validates a selected car id against the vehicle list. An
// empty id resolves if the account holds exactly one vehicle. A disabled
// vehicle resolves with a warning - the coordinator keeps polling it rather
// than silently switching vehicles.
func EnsureSelected(log *util.Logger, vehicles []api.Vehicle, carID string) (api.Vehicle, error) {
	if carID == "" {
		if len(vehicles) != 1 {
			return api.Vehicle{}, fmt.Errorf("cannot find vehicle: %v", funk.Map(vehicles, func(v api.Vehicle) string {
				return v.CarID
			}))
		}
		return vehicles[0], nil
	}

	for _, v := range vehicles {
		if v.CarID == carID {
			if v.Disabled {
				log.WARN.Printf("selected vehicle %s missing from account - polls will fail until re-discovery", carID)
			}
			return v, nil
		}
	}

	return api.Vehicle{}, fmt.Errorf("cannot find vehicle: %s", carID)
}
