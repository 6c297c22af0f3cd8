package controller

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/stretchr/testify/assert"
)

func forecastStructure(outside float64, hourly []float64, daily []float64) types.Structure {
	f := &types.Forecast{}
	for _, h := range hourly {
		f.Hourly = append(f.Hourly, types.HourlyForecast{Temp: h})
	}
	for _, d := range daily {
		f.Daily = append(f.Daily, types.DailyForecast{LowTemperature: d, HighTemperature: d + 10})
	}
	return types.Structure{
		ID:                 "s1",
		OutsideTemperature: outside,
		WeatherAvailable:   true,
		Forecast:           f,
	}
}

func TestReferenceTemperature(t *testing.T) {
	c := NewController()
	ctx := context.Background()

	t.Run("hourly and first latency days", func(t *testing.T) {
		s := forecastStructure(15, []float64{18, 12, 20}, []float64{10, 5, 25})
		assert.Equal(t, 5.0, c.ReferenceTemperature(ctx, s, 2))
	})

	t.Run("daily beyond latency ignored", func(t *testing.T) {
		s := forecastStructure(15, []float64{18, 16}, []float64{14, -3})
		assert.Equal(t, 14.0, c.ReferenceTemperature(ctx, s, 1))
	})

	t.Run("hourly not bounded by latency", func(t *testing.T) {
		s := forecastStructure(15, []float64{18, 16, 17, -8}, []float64{14})
		assert.Equal(t, -8.0, c.ReferenceTemperature(ctx, s, 1))
	})

	t.Run("zero latency ignores forecast", func(t *testing.T) {
		s := forecastStructure(15, []float64{-20}, []float64{-30})
		assert.Equal(t, 15.0, c.ReferenceTemperature(ctx, s, 0))
	})

	t.Run("missing forecast", func(t *testing.T) {
		s := types.Structure{OutsideTemperature: 7, WeatherAvailable: true}
		assert.Equal(t, 7.0, c.ReferenceTemperature(ctx, s, 3))
	})

	t.Run("latency longer than forecast", func(t *testing.T) {
		s := forecastStructure(15, nil, []float64{12, 9})
		assert.Equal(t, 9.0, c.ReferenceTemperature(ctx, s, 10))
	})

	t.Run("lower bound property", func(t *testing.T) {
		rng := rand.New(rand.NewSource(1))
		for i := 0; i < 200; i++ {
			hourly := make([]float64, rng.Intn(48))
			for j := range hourly {
				hourly[j] = rng.Float64()*80 - 30
			}
			daily := make([]float64, rng.Intn(10))
			for j := range daily {
				daily[j] = rng.Float64()*80 - 30
			}
			latency := rng.Intn(6)
			s := forecastStructure(rng.Float64()*80-30, hourly, daily)

			ref := c.ReferenceTemperature(ctx, s, latency)
			assert.LessOrEqual(t, ref, s.OutsideTemperature)
			if latency == 0 {
				assert.Equal(t, s.OutsideTemperature, ref)
				continue
			}
			for _, h := range hourly {
				assert.LessOrEqual(t, ref, h)
			}
			for j := 0; j < latency && j < len(daily); j++ {
				assert.LessOrEqual(t, ref, daily[j])
			}
		}
	})
}

func TestTargetHumidity(t *testing.T) {
	c := NewController()
	ctx := context.Background()

	settings := types.Settings{
		DefaultSteps: types.StepTable{10: 30, 20: 45, 30: 60},
		DeviceSteps: map[string]types.StepTable{
			"02AA": {-10: 15, 0: 25},
		},
	}

	t.Run("default table", func(t *testing.T) {
		assert.Equal(t, 45.0, c.TargetHumidity(ctx, "02BB", 25, settings))
		assert.Equal(t, 30.0, c.TargetHumidity(ctx, "02BB", 20, settings), "threshold itself is excluded")
		assert.Equal(t, 60.0, c.TargetHumidity(ctx, "02BB", 35, settings))
		assert.Equal(t, 0.0, c.TargetHumidity(ctx, "02BB", 5, settings))
		assert.Equal(t, 0.0, c.TargetHumidity(ctx, "02BB", 10, settings))
	})

	t.Run("device override", func(t *testing.T) {
		assert.Equal(t, 25.0, c.TargetHumidity(ctx, "02AA", 25, settings))
		assert.Equal(t, 15.0, c.TargetHumidity(ctx, "02AA", -5, settings))
		assert.Equal(t, 0.0, c.TargetHumidity(ctx, "02AA", -10, settings))
	})

	t.Run("non-decreasing in reference", func(t *testing.T) {
		prev := c.TargetHumidity(ctx, "02BB", -50, settings)
		for ref := -50.0; ref <= 50; ref += 0.25 {
			got := c.TargetHumidity(ctx, "02BB", ref, settings)
			assert.GreaterOrEqual(t, got, prev, "reference %v", ref)
			prev = got
		}
	})
}
