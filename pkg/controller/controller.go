package controller

import (
	"context"
	"log/slog"

	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// Controller holds the humidity decision logic.
type Controller struct {
}

// NewController creates a new Controller.
func NewController() *Controller {
	return &Controller{}
}

// ReferenceTemperature returns the coldest temperature expected for the
// structure: the current outdoor temperature lowered by every hourly forecast
// point and by the first latencyDays daily lows. With latencyDays <= 0, or no
// forecast, it is the outdoor temperature.
func (c *Controller) ReferenceTemperature(ctx context.Context, structure types.Structure, latencyDays int) float64 {
	reference := structure.OutsideTemperature
	if latencyDays <= 0 || structure.Forecast == nil {
		return reference
	}

	// hourly lows are not always reflected in the daily low so check every
	// hourly point we were given
	for _, hour := range structure.Forecast.Hourly {
		if hour.Temp < reference {
			reference = hour.Temp
		}
	}
	for i, day := range structure.Forecast.Daily {
		if i >= latencyDays {
			break
		}
		if day.LowTemperature < reference {
			reference = day.LowTemperature
		}
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"reference temperature calculated",
		log.Structure(structure.ID),
		slog.Float64("outside", structure.OutsideTemperature),
		slog.Float64("reference", reference),
		slog.Int("hourly", len(structure.Forecast.Hourly)),
		slog.Int("daily", len(structure.Forecast.Daily)),
		slog.Int("latencyDays", latencyDays),
	)
	return reference
}

// TargetHumidity returns the humidity of the highest threshold strictly below
// the reference temperature, using the device's own step table when the
// settings have one. It is 0 when the reference does not exceed any
// threshold.
func (c *Controller) TargetHumidity(ctx context.Context, deviceID string, reference float64, settings types.Settings) float64 {
	steps, override := settings.StepsFor(deviceID)
	return c.resolveSteps(ctx, deviceID, reference, steps, override)
}

func (c *Controller) resolveSteps(ctx context.Context, deviceID string, reference float64, steps types.StepTable, override bool) float64 {
	var target float64
	for _, threshold := range steps.Thresholds() {
		if reference <= threshold {
			break
		}
		target = steps[threshold]
	}

	log.Ctx(ctx).DebugContext(
		ctx,
		"target humidity resolved",
		log.Device(deviceID),
		slog.Float64("reference", reference),
		slog.Float64("target", target),
		slog.Bool("override", override),
	)
	return target
}
