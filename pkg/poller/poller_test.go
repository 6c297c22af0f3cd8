package poller

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rjacobs/nestautohumidity/pkg/controller"
	"github.com/rjacobs/nestautohumidity/pkg/nest/nestmock"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func testSettings() types.Settings {
	return types.Settings{
		DefaultSteps: types.StepTable{10: 30, 20: 45, 30: 60},
		DeviceSteps: map[string]types.StepTable{
			"02BB": {0: 20, 20: 25},
		},
		LatencyDays: 2,
	}
}

func testStructures() []types.Structure {
	return []types.Structure{
		{
			ID:                 "s1",
			Name:               "Home",
			OutsideTemperature: 25,
			WeatherAvailable:   true,
			Forecast: &types.Forecast{
				Hourly: []types.HourlyForecast{{Temp: 28}, {Temp: 24}},
				Daily:  []types.DailyForecast{{LowTemperature: 22}, {LowTemperature: 26}, {LowTemperature: -10}},
			},
			ThermostatIDs: []string{"02AA", "02XX", "02BB"},
		},
		{
			ID:                 "s2",
			Name:               "Cabin",
			OutsideTemperature: 35,
			WeatherAvailable:   true,
			ThermostatIDs:      []string{"02CC"},
		},
	}
}

func mockThermostats(g *nestmock.MockGateway) {
	g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return([]string{"02AA", "02BB", "02CC"}, nil).Once()
	g.On("Device", mock.Anything, "02AA").Return(types.Thermostat{ID: "02AA", StructureID: "s1", Where: "Hallway", CurrentHumidity: 40, TargetHumidity: 35}, nil).Once()
	g.On("Device", mock.Anything, "02BB").Return(types.Thermostat{ID: "02BB", StructureID: "s1", Where: "Bedroom", CurrentHumidity: 41, TargetHumidity: 30}, nil).Once()
	g.On("Device", mock.Anything, "02CC").Return(types.Thermostat{ID: "02CC", StructureID: "s2", Where: "Den", CurrentHumidity: 50, TargetHumidity: 55}, nil).Once()
}

// mockThermostatsFailing is mockThermostats with 02BB's details unreadable.
func mockThermostatsFailing(g *nestmock.MockGateway) {
	g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return([]string{"02AA", "02BB", "02CC"}, nil).Once()
	g.On("Device", mock.Anything, "02AA").Return(types.Thermostat{ID: "02AA", StructureID: "s1", Where: "Hallway", CurrentHumidity: 40, TargetHumidity: 35}, nil).Once()
	g.On("Device", mock.Anything, "02BB").Return(types.Thermostat{}, errors.New("transient")).Once()
	g.On("Device", mock.Anything, "02CC").Return(types.Thermostat{ID: "02CC", StructureID: "s2", Where: "Den", CurrentHumidity: 50, TargetHumidity: 55}, nil).Once()
}

func float64Ptr(v float64) *float64 {
	return &v
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Fetches Once", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostats(g)

		c := NewCache(g)
		s1, err := c.Structures(ctx)
		require.NoError(t, err)
		s2, err := c.Structures(ctx)
		require.NoError(t, err)
		assert.Equal(t, s1, s2)
		g.AssertNumberOfCalls(t, "Structures", 1)

		t1, err := c.Thermostats(ctx)
		require.NoError(t, err)
		_, err = c.Thermostats(ctx)
		require.NoError(t, err)
		assert.Len(t, t1, 3)
		g.AssertNumberOfCalls(t, "Devices", 1)
		g.AssertNumberOfCalls(t, "Device", 3)
	})

	t.Run("Failure Not Memoized", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(nil, errors.New("boom")).Once()
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()

		c := NewCache(g)
		_, err := c.Structures(ctx)
		require.Error(t, err)
		s, err := c.Structures(ctx)
		require.NoError(t, err)
		assert.Len(t, s, 2)
		g.AssertNumberOfCalls(t, "Structures", 2)
	})

	t.Run("Empty Listing Memoized", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(nil, nil).Once()

		c := NewCache(g)
		s, err := c.Structures(ctx)
		require.NoError(t, err)
		assert.Empty(t, s)
		_, err = c.Structures(ctx)
		require.NoError(t, err)
		g.AssertNumberOfCalls(t, "Structures", 1)
	})

	t.Run("Device Failure", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		mockThermostatsFailing(g)

		c := NewCache(g)
		thermostats, err := c.Thermostats(ctx)
		require.NoError(t, err)
		assert.Len(t, thermostats, 2)
		assert.Contains(t, thermostats, "02AA")
		assert.Contains(t, thermostats, "02CC")

		assert.Equal(t, []string{"02BB"}, c.FailedThermostats())
		assert.ErrorContains(t, c.ThermostatError("02BB"), "failed to get thermostat 02BB: transient")
		assert.NoError(t, c.ThermostatError("02AA"))

		_, err = c.Thermostats(ctx)
		require.NoError(t, err)
		g.AssertNumberOfCalls(t, "Device", 3)
	})

	t.Run("Listing Failure", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return(nil, errors.New("boom")).Once()
		g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return([]string{}, nil).Once()

		c := NewCache(g)
		_, err := c.Thermostats(ctx)
		assert.ErrorContains(t, err, "failed to list thermostats")
		thermostats, err := c.Thermostats(ctx)
		require.NoError(t, err)
		assert.Empty(t, thermostats)
		assert.Empty(t, c.FailedThermostats())
	})
}

func TestPoll(t *testing.T) {
	ctx := context.Background()

	t.Run("Sets Every Known Thermostat", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostats(g)
		// reference for s1 is min(25, 28, 24, 22, 26) = 22
		g.On("SetHumidity", mock.Anything, 45.0, "02AA").Return(nil).Once()
		g.On("SetHumidity", mock.Anything, 25.0, "02BB").Return(nil).Once()
		// s2 has no forecast so its reference is the outdoor temperature
		g.On("SetHumidity", mock.Anything, 60.0, "02CC").Return(nil).Once()

		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		p := New(g, testSettings(), controller.NewController(), metrics)

		actions, err := p.Poll(ctx)
		require.NoError(t, err)
		g.AssertExpectations(t)
		g.AssertNotCalled(t, "SetHumidity", mock.Anything, mock.Anything, "02XX")

		require.Len(t, actions, 3)
		assert.Equal(t, "02AA", actions[0].DeviceID)
		assert.Equal(t, 22.0, actions[0].ReferenceTemperature)
		assert.Equal(t, 35.0, actions[0].PreviousTarget)
		assert.Equal(t, 45.0, actions[0].Target)
		assert.True(t, actions[0].Applied)

		assert.Equal(t, 3.0, testutil.ToFloat64(metrics.humiditySet.WithLabelValues("applied")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.cycles.WithLabelValues("poll")))
		assert.Equal(t, 22.0, testutil.ToFloat64(metrics.reference.WithLabelValues("s1")))
		assert.Equal(t, 60.0, testutil.ToFloat64(metrics.target.WithLabelValues("02CC")))
	})

	t.Run("Failure Does Not Stop Cycle", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostats(g)
		g.On("SetHumidity", mock.Anything, 45.0, "02AA").Return(errors.New("status 500")).Once()
		g.On("SetHumidity", mock.Anything, 25.0, "02BB").Return(nil).Once()
		g.On("SetHumidity", mock.Anything, 60.0, "02CC").Return(nil).Once()

		p := New(g, testSettings(), controller.NewController(), nil)
		actions, err := p.Poll(ctx)
		require.Error(t, err)
		g.AssertExpectations(t)

		var de *DeviceError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, "s1", de.StructureID)
		assert.Equal(t, []string{"02AA"}, FailedDevices(err))

		require.Len(t, actions, 3)
		assert.False(t, actions[0].Applied)
		assert.Equal(t, "status 500", actions[0].Error)
		assert.True(t, actions[1].Applied)
		assert.True(t, actions[2].Applied)
	})

	t.Run("Thermostat Detail Fails", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostatsFailing(g)
		g.On("SetHumidity", mock.Anything, 45.0, "02AA").Return(nil).Once()
		g.On("SetHumidity", mock.Anything, 60.0, "02CC").Return(nil).Once()

		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		p := New(g, testSettings(), nil, metrics)
		actions, err := p.Poll(ctx)
		require.Error(t, err)
		g.AssertExpectations(t)
		g.AssertNotCalled(t, "SetHumidity", mock.Anything, mock.Anything, "02BB")

		assert.Equal(t, []string{"02BB"}, FailedDevices(err))
		var de *DeviceError
		require.ErrorAs(t, err, &de)
		assert.Equal(t, OpGetThermostat, de.Op)
		assert.Equal(t, "s1", de.StructureID)
		assert.ErrorContains(t, err, "transient")

		require.Len(t, actions, 3)
		assert.True(t, actions[0].Applied)
		assert.Equal(t, "02BB", actions[1].DeviceID)
		assert.False(t, actions[1].Applied)
		assert.Contains(t, actions[1].Error, "transient")
		assert.Equal(t, "02CC", actions[2].DeviceID)
		assert.True(t, actions[2].Applied)

		assert.Equal(t, 2.0, testutil.ToFloat64(metrics.humiditySet.WithLabelValues("applied")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.humiditySet.WithLabelValues("error")))
	})

	t.Run("Unlisted Thermostat Detail Fails", func(t *testing.T) {
		structures := testStructures()
		structures[0].ThermostatIDs = []string{"02AA"}

		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(structures, nil).Once()
		mockThermostatsFailing(g)
		g.On("SetHumidity", mock.Anything, 45.0, "02AA").Return(nil).Once()
		g.On("SetHumidity", mock.Anything, 60.0, "02CC").Return(nil).Once()

		p := New(g, testSettings(), nil, nil)
		actions, err := p.Poll(ctx)
		assert.Equal(t, []string{"02BB"}, FailedDevices(err))
		assert.Len(t, actions, 2)
		g.AssertExpectations(t)
	})

	t.Run("Dry Run", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostats(g)

		settings := testSettings()
		settings.DryRun = true
		p := New(g, settings, nil, nil)
		actions, err := p.Poll(ctx)
		require.NoError(t, err)
		g.AssertNotCalled(t, "SetHumidity", mock.Anything, mock.Anything, mock.Anything)

		require.Len(t, actions, 3)
		for _, a := range actions {
			assert.True(t, a.DryRun)
			assert.False(t, a.Applied)
		}
		assert.Equal(t, 45.0, actions[0].Target)
	})

	t.Run("Weather Unavailable", func(t *testing.T) {
		structures := testStructures()
		structures[1].WeatherAvailable = false
		structures[1].OutsideTemperature = 0

		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(structures, nil).Once()
		mockThermostats(g)
		g.On("SetHumidity", mock.Anything, 45.0, "02AA").Return(nil).Once()
		g.On("SetHumidity", mock.Anything, 25.0, "02BB").Return(nil).Once()

		p := New(g, testSettings(), nil, nil)
		actions, err := p.Poll(ctx)
		require.NoError(t, err)
		g.AssertExpectations(t)
		g.AssertNotCalled(t, "SetHumidity", mock.Anything, mock.Anything, "02CC")

		require.Len(t, actions, 3)
		assert.Equal(t, "02CC", actions[2].DeviceID)
		assert.Equal(t, SkipWeatherUnavailable, actions[2].Skipped)
	})

	t.Run("Structure Listing Fails", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(nil, errors.New("boom")).Once()

		p := New(g, testSettings(), nil, nil)
		_, err := p.Poll(ctx)
		require.Error(t, err)
		assert.Empty(t, FailedDevices(err))
		g.AssertNotCalled(t, "Devices", mock.Anything, mock.Anything)
	})

	t.Run("Fresh Cache Per Cycle", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Twice()
		g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return([]string{}, nil).Twice()

		p := New(g, testSettings(), nil, nil)
		_, err := p.Poll(ctx)
		require.NoError(t, err)
		_, err = p.Poll(ctx)
		require.NoError(t, err)
		g.AssertNumberOfCalls(t, "Structures", 2)
	})
}

func TestInfo(t *testing.T) {
	ctx := context.Background()

	t.Run("Snapshot", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostats(g)

		p := New(g, testSettings(), nil, nil)
		info, err := p.Info(ctx)
		require.NoError(t, err)
		g.AssertNotCalled(t, "SetHumidity", mock.Anything, mock.Anything, mock.Anything)

		assert.Equal(t, testSettings().DefaultSteps, info.DefaultSteps)
		assert.Equal(t, 2, info.LatencyDays)
		assert.Empty(t, info.Errors)
		require.Len(t, info.Structures, 2)

		home := info.Structures[0]
		assert.Equal(t, "Home", home.Name)
		assert.Equal(t, float64Ptr(22), home.ReferenceTemperature)
		assert.True(t, home.ForecastAvailable)
		require.Len(t, home.Thermostats, 2, "unknown thermostat skipped")
		assert.Equal(t, types.ThermostatInfo{
			ID:                       "02AA",
			Where:                    "Hallway",
			CurrentHumidity:          40,
			CurrentSetTargetHumidity: 35,
			CalculatedTargetHumidity: float64Ptr(45),
		}, home.Thermostats[0])
		assert.Equal(t, types.StepTable{0: 20, 20: 25}, home.Thermostats[1].Steps)
		assert.Equal(t, float64Ptr(25), home.Thermostats[1].CalculatedTargetHumidity)

		cabin := info.Structures[1]
		assert.False(t, cabin.ForecastAvailable)
		assert.Equal(t, float64Ptr(35), cabin.ReferenceTemperature)
	})

	t.Run("Weather Unavailable", func(t *testing.T) {
		structures := testStructures()
		structures[1].WeatherAvailable = false
		structures[1].OutsideTemperature = 0

		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(structures, nil).Once()
		mockThermostats(g)

		p := New(g, testSettings(), nil, nil)
		info, err := p.Info(ctx)
		require.NoError(t, err)
		require.Len(t, info.Structures, 2)

		cabin := info.Structures[1]
		assert.False(t, cabin.WeatherAvailable)
		assert.Nil(t, cabin.ReferenceTemperature)
		require.Len(t, cabin.Thermostats, 1)
		assert.Nil(t, cabin.Thermostats[0].CalculatedTargetHumidity)
		assert.Equal(t, 55.0, cabin.Thermostats[0].CurrentSetTargetHumidity)

		b, err := json.Marshal(cabin)
		require.NoError(t, err)
		assert.NotContains(t, string(b), "referenceTemperature")
		assert.NotContains(t, string(b), "calculatedTargetHumidity")

		b, err = json.Marshal(info.Structures[0])
		require.NoError(t, err)
		assert.Contains(t, string(b), `"referenceTemperature":22`)
		assert.Contains(t, string(b), `"calculatedTargetHumidity":45`)
	})

	t.Run("Thermostat Detail Fails", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		mockThermostatsFailing(g)

		p := New(g, testSettings(), nil, nil)
		info, err := p.Info(ctx)
		require.NoError(t, err)

		require.Len(t, info.Errors, 1)
		assert.Contains(t, info.Errors[0], "02BB")
		require.Len(t, info.Structures, 2)
		require.Len(t, info.Structures[0].Thermostats, 1)
		assert.Equal(t, "02AA", info.Structures[0].Thermostats[0].ID)
		require.Len(t, info.Structures[1].Thermostats, 1)
		assert.Equal(t, "02CC", info.Structures[1].Thermostats[0].ID)
	})

	t.Run("Thermostat Listing Fails", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(testStructures(), nil).Once()
		g.On("Devices", mock.Anything, types.DeviceTypeThermostat).Return(nil, errors.New("boom")).Once()

		p := New(g, testSettings(), nil, nil)
		info, err := p.Info(ctx)
		require.NoError(t, err)
		require.Len(t, info.Errors, 1)
		assert.Contains(t, info.Errors[0], "boom")
		require.Len(t, info.Structures, 2)
		assert.Empty(t, info.Structures[0].Thermostats)
		assert.Equal(t, float64Ptr(22), info.Structures[0].ReferenceTemperature)
	})

	t.Run("Structure Listing Fails", func(t *testing.T) {
		g := &nestmock.MockGateway{}
		g.On("Structures", mock.Anything).Return(nil, errors.New("boom")).Once()

		p := New(g, testSettings(), nil, nil)
		info, err := p.Info(ctx)
		require.Error(t, err)
		assert.Equal(t, 2, info.LatencyDays)
		assert.Empty(t, info.Structures)
		assert.NotEmpty(t, info.Errors)
	})
}

func TestDeviceError(t *testing.T) {
	err := &DeviceError{Op: OpSetHumidity, StructureID: "s1", DeviceID: "02AA", Err: errors.New("status 500")}
	assert.Equal(t, "set humidity 02AA in structure s1 failed: status 500", err.Error())

	err = &DeviceError{Op: OpGetThermostat, DeviceID: "02BB", Err: errors.New("transient")}
	assert.Equal(t, "get thermostat 02BB failed: transient", err.Error())
}

func TestFailedDevices(t *testing.T) {
	assert.Nil(t, FailedDevices(nil))
	assert.Nil(t, FailedDevices(errors.New("other")))

	err := errors.Join(
		&DeviceError{StructureID: "s1", DeviceID: "02AA", Err: errors.New("a")},
		errors.New("other"),
		&DeviceError{StructureID: "s2", DeviceID: "02CC", Err: errors.New("c")},
	)
	assert.Equal(t, []string{"02AA", "02CC"}, FailedDevices(err))
}
