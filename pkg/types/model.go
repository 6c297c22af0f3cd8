package types

import "time"

// HumidityAction records one target humidity decision for a thermostat during
// a poll cycle.
type HumidityAction struct {
	Timestamp            time.Time `json:"timestamp"`
	StructureID          string    `json:"structureID"`
	DeviceID             string    `json:"deviceID"`
	ReferenceTemperature float64   `json:"referenceTemperature"`
	PreviousTarget       float64   `json:"previousTarget"`
	Target               float64   `json:"target"`
	// Applied is false for dry runs, skipped devices and failures.
	Applied bool   `json:"applied"`
	DryRun  bool   `json:"dryRun,omitempty"`
	Skipped string `json:"skipped,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Info is the diagnostic snapshot of a cycle.
type Info struct {
	Timestamp    time.Time       `json:"timestamp"`
	DefaultSteps StepTable       `json:"defaultSteps"`
	LatencyDays  int             `json:"latencyDays"`
	Structures   []StructureInfo `json:"structures"`
	// Errors lists upstream problems that made the snapshot incomplete.
	Errors []string `json:"errors,omitempty"`
}

// StructureInfo is the per-structure part of Info. ReferenceTemperature is
// nil when the structure has no outdoor temperature.
type StructureInfo struct {
	ID                   string           `json:"id"`
	Name                 string           `json:"name"`
	ReferenceTemperature *float64         `json:"referenceTemperature,omitempty"`
	WeatherAvailable     bool             `json:"weatherAvailable"`
	ForecastAvailable    bool             `json:"forecastAvailable"`
	Thermostats          []ThermostatInfo `json:"thermostats"`
}

// ThermostatInfo is the per-thermostat part of Info. CalculatedTargetHumidity
// is nil when its structure has no outdoor temperature.
type ThermostatInfo struct {
	ID                       string   `json:"id"`
	Where                    string   `json:"where"`
	CurrentHumidity          float64  `json:"currentHumidity"`
	CurrentSetTargetHumidity float64  `json:"currentSetTargetHumidity"`
	CalculatedTargetHumidity *float64 `json:"calculatedTargetHumidity,omitempty"`
	// Steps is only set when the thermostat has its own step table.
	Steps StepTable `json:"steps,omitempty"`
}
