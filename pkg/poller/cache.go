package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/nest"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// Cache holds the structures and thermostats fetched during one cycle. Each
// is fetched from the gateway on first use and reused afterwards. A failed
// listing is not remembered, while a thermostat whose details could not be
// fetched is left out and reported by FailedThermostats. A Cache must not be
// shared between cycles or goroutines.
type Cache struct {
	gateway nest.Gateway

	structures  []types.Structure
	thermostats map[string]types.Thermostat
	failed      map[string]error
}

// NewCache returns an empty Cache reading from gateway.
func NewCache(gateway nest.Gateway) *Cache {
	return &Cache{gateway: gateway}
}

// Structures returns the account's structures in gateway order.
func (c *Cache) Structures(ctx context.Context) ([]types.Structure, error) {
	if c.structures != nil {
		return c.structures, nil
	}
	structures, err := c.gateway.Structures(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get structures: %w", err)
	}
	if structures == nil {
		structures = []types.Structure{}
	}
	c.structures = structures
	return c.structures, nil
}

// Thermostats returns the account's thermostats keyed by id. Only a failure
// to list the thermostats is returned; a thermostat whose details fail is
// skipped so the rest of the account can still be handled.
func (c *Cache) Thermostats(ctx context.Context) (map[string]types.Thermostat, error) {
	if c.thermostats != nil {
		return c.thermostats, nil
	}
	ids, err := c.gateway.Devices(ctx, types.DeviceTypeThermostat)
	if err != nil {
		return nil, fmt.Errorf("failed to list thermostats: %w", err)
	}
	thermostats := make(map[string]types.Thermostat, len(ids))
	failed := make(map[string]error)
	for _, id := range ids {
		t, err := c.gateway.Device(ctx, id)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "skipping thermostat", log.Device(id), slog.Any("error", err))
			failed[id] = fmt.Errorf("failed to get thermostat %s: %w", id, err)
			continue
		}
		thermostats[id] = t
	}
	c.thermostats = thermostats
	c.failed = failed
	return c.thermostats, nil
}

// FailedThermostats returns the ids whose details could not be fetched by
// Thermostats, in order.
func (c *Cache) FailedThermostats() []string {
	ids := make([]string, 0, len(c.failed))
	for id := range c.failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ThermostatError returns the detail failure of id, or nil.
func (c *Cache) ThermostatError(id string) error {
	return c.failed[id]
}
