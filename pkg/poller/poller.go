package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rjacobs/nestautohumidity/pkg/controller"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/nest"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// Skip reasons recorded on a HumidityAction.
const (
	SkipWeatherUnavailable = "weather unavailable"
)

// Operations recorded on a DeviceError.
const (
	OpGetThermostat = "get thermostat"
	OpSetHumidity   = "set humidity"
)

// DeviceError is a failure to read or update one thermostat.
type DeviceError struct {
	Op          string
	StructureID string
	DeviceID    string
	Err         error
}

func (e *DeviceError) Error() string {
	if e.StructureID == "" {
		return fmt.Sprintf("%s %s failed: %v", e.Op, e.DeviceID, e.Err)
	}
	return fmt.Sprintf("%s %s in structure %s failed: %v", e.Op, e.DeviceID, e.StructureID, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// FailedDevices returns the ids of every thermostat with a *DeviceError in
// err, which may be a joined error.
func FailedDevices(err error) []string {
	var ids []string
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case nil:
		case *DeviceError:
			ids = append(ids, e.DeviceID)
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		default:
			var de *DeviceError
			if errors.As(err, &de) {
				ids = append(ids, de.DeviceID)
			}
		}
	}
	walk(err)
	return ids
}

// Poller runs poll and info cycles for one account with fixed settings.
type Poller struct {
	gateway    nest.Gateway
	settings   types.Settings
	controller *controller.Controller
	metrics    *Metrics
}

// New creates a Poller. metrics may be nil.
func New(gateway nest.Gateway, settings types.Settings, c *controller.Controller, metrics *Metrics) *Poller {
	if c == nil {
		c = controller.NewController()
	}
	return &Poller{
		gateway:    gateway,
		settings:   settings,
		controller: c,
		metrics:    metrics,
	}
}

// Poll computes the target humidity of every known thermostat and applies it.
// A failure on one thermostat does not stop the others; the returned error
// joins one *DeviceError per thermostat that could not be read or set.
// Errors listing structures or thermostats abort the cycle before anything
// is applied.
func (p *Poller) Poll(ctx context.Context) ([]types.HumidityAction, error) {
	ctx, _ = log.WithCycle(ctx, "poll")
	p.metrics.cycle("poll")
	cache := NewCache(p.gateway)

	structures, err := cache.Structures(ctx)
	if err != nil {
		return nil, err
	}
	thermostats, err := cache.Thermostats(ctx)
	if err != nil {
		return nil, err
	}

	var actions []types.HumidityAction
	var errs []error
	reported := make(map[string]bool)

	// unreadable reports a thermostat whose details failed, returning false
	// when id was read fine.
	unreadable := func(structureID, id string) bool {
		err := cache.ThermostatError(id)
		if err == nil {
			return false
		}
		reported[id] = true
		actions = append(actions, types.HumidityAction{
			Timestamp:   time.Now(),
			StructureID: structureID,
			DeviceID:    id,
			Error:       err.Error(),
		})
		errs = append(errs, &DeviceError{Op: OpGetThermostat, StructureID: structureID, DeviceID: id, Err: err})
		p.metrics.result("error")
		return true
	}

	for _, structure := range structures {
		if !structure.WeatherAvailable {
			log.Ctx(ctx).WarnContext(ctx, "skipping structure without outdoor temperature", log.Structure(structure.ID))
			for _, id := range structure.ThermostatIDs {
				if unreadable(structure.ID, id) {
					continue
				}
				if _, ok := thermostats[id]; !ok {
					continue
				}
				actions = append(actions, types.HumidityAction{
					Timestamp:   time.Now(),
					StructureID: structure.ID,
					DeviceID:    id,
					Skipped:     SkipWeatherUnavailable,
				})
				p.metrics.result("skipped")
			}
			continue
		}

		reference := p.controller.ReferenceTemperature(ctx, structure, p.settings.LatencyDays)
		p.metrics.referenceTemperature(structure.ID, reference)

		for _, id := range structure.ThermostatIDs {
			if unreadable(structure.ID, id) {
				continue
			}
			thermostat, ok := thermostats[id]
			if !ok {
				log.Ctx(ctx).DebugContext(ctx, "skipping unknown thermostat", log.Structure(structure.ID), log.Device(id))
				continue
			}

			target := p.controller.TargetHumidity(ctx, id, reference, p.settings)
			p.metrics.targetHumidity(id, target)

			action := types.HumidityAction{
				Timestamp:            time.Now(),
				StructureID:          structure.ID,
				DeviceID:             id,
				ReferenceTemperature: reference,
				PreviousTarget:       thermostat.TargetHumidity,
				Target:               target,
				DryRun:               p.settings.DryRun,
			}

			if p.settings.DryRun {
				log.Ctx(ctx).InfoContext(
					ctx,
					"dry run: not setting humidity",
					log.Device(id),
					slog.Float64("reference", reference),
					slog.Float64("target", target),
				)
				p.metrics.result("dry_run")
				actions = append(actions, action)
				continue
			}

			if err := p.gateway.SetHumidity(ctx, target, id); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to set humidity", log.Device(id), slog.Any("error", err))
				action.Error = err.Error()
				errs = append(errs, &DeviceError{Op: OpSetHumidity, StructureID: structure.ID, DeviceID: id, Err: err})
				p.metrics.result("error")
				actions = append(actions, action)
				continue
			}

			action.Applied = true
			p.metrics.result("applied")
			log.Ctx(ctx).InfoContext(
				ctx,
				"humidity set",
				log.Structure(structure.ID),
				log.Device(id),
				slog.Float64("reference", reference),
				slog.Float64("previous", thermostat.TargetHumidity),
				slog.Float64("target", target),
			)
			actions = append(actions, action)
		}
	}

	// unreadable thermostats that no structure lists
	for _, id := range cache.FailedThermostats() {
		if !reported[id] {
			errs = append(errs, &DeviceError{Op: OpGetThermostat, DeviceID: id, Err: cache.ThermostatError(id)})
			p.metrics.result("error")
		}
	}
	return actions, errors.Join(errs...)
}

// Info returns a snapshot of the settings, structures and thermostats with
// the targets a poll would apply now. It is best effort: when the
// thermostats cannot be listed the structures are still reported, and a
// thermostat whose details fail is left out. Each problem is added to
// Errors. Only a failure to list structures is returned, together with the
// partial snapshot.
func (p *Poller) Info(ctx context.Context) (types.Info, error) {
	ctx, _ = log.WithCycle(ctx, "info")
	p.metrics.cycle("info")
	cache := NewCache(p.gateway)

	info := types.Info{
		Timestamp:    time.Now(),
		DefaultSteps: p.settings.DefaultSteps,
		LatencyDays:  p.settings.LatencyDays,
		Structures:   []types.StructureInfo{},
	}

	structures, err := cache.Structures(ctx)
	if err != nil {
		info.Errors = append(info.Errors, err.Error())
		return info, err
	}

	thermostats, err := cache.Thermostats(ctx)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "info without thermostats", slog.Any("error", err))
		info.Errors = append(info.Errors, err.Error())
	}
	for _, id := range cache.FailedThermostats() {
		info.Errors = append(info.Errors, cache.ThermostatError(id).Error())
	}

	for _, structure := range structures {
		si := types.StructureInfo{
			ID:                structure.ID,
			Name:              structure.Name,
			WeatherAvailable:  structure.WeatherAvailable,
			ForecastAvailable: structure.Forecast != nil,
			Thermostats:       []types.ThermostatInfo{},
		}
		var reference float64
		if structure.WeatherAvailable {
			reference = p.controller.ReferenceTemperature(ctx, structure, p.settings.LatencyDays)
			si.ReferenceTemperature = &reference
		}

		for _, id := range structure.ThermostatIDs {
			thermostat, ok := thermostats[id]
			if !ok {
				continue
			}
			ti := types.ThermostatInfo{
				ID:                       id,
				Where:                    thermostat.Where,
				CurrentHumidity:          thermostat.CurrentHumidity,
				CurrentSetTargetHumidity: thermostat.TargetHumidity,
			}
			if structure.WeatherAvailable {
				target := p.controller.TargetHumidity(ctx, id, reference, p.settings)
				ti.CalculatedTargetHumidity = &target
			}
			if steps, override := p.settings.StepsFor(id); override {
				ti.Steps = steps
			}
			si.Thermostats = append(si.Thermostats, ti)
		}
		info.Structures = append(info.Structures, si)
	}
	return info, nil
}
