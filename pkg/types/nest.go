package types

import "time"

// DeviceTypeThermostat and DeviceTypeProtect are the device kinds the Nest
// account status lists.
const (
	DeviceTypeThermostat = "thermostat"
	DeviceTypeProtect    = "protect"
)

// Structure is one physical location of the account. It is built fresh every
// cycle and never persisted.
type Structure struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Address    string `json:"address,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`

	// OutsideTemperature is in the account's temperature scale. It is only
	// meaningful when WeatherAvailable is true.
	OutsideTemperature float64 `json:"outsideTemperature"`
	OutsideHumidity    float64 `json:"outsideHumidity"`
	WeatherAvailable   bool    `json:"weatherAvailable"`
	// Forecast is nil when the forecast could not be fetched.
	Forecast *Forecast `json:"forecast,omitempty"`

	Away            bool      `json:"away"`
	AwayLastChanged time.Time `json:"awayLastChanged"`

	ThermostatIDs []string `json:"thermostatIDs"`
	ProtectIDs    []string `json:"protectIDs,omitempty"`
}

// Forecast holds the outdoor forecast for a structure, already converted to
// the account's temperature scale.
type Forecast struct {
	Hourly []HourlyForecast `json:"hourly"`
	Daily  []DailyForecast  `json:"daily"`
}

// HourlyForecast is a single hourly forecast point.
type HourlyForecast struct {
	Time time.Time `json:"time"`
	Temp float64   `json:"temp"`
}

// DailyForecast is a single daily forecast point.
type DailyForecast struct {
	Date            time.Time `json:"date"`
	LowTemperature  float64   `json:"lowTemperature"`
	HighTemperature float64   `json:"highTemperature"`
}

// Thermostat is the state of a single thermostat, identified by its serial.
type Thermostat struct {
	ID               string  `json:"id"`
	StructureID      string  `json:"structureID"`
	Name             string  `json:"name,omitempty"`
	Where            string  `json:"where"`
	CurrentHumidity  float64 `json:"currentHumidity"`
	TargetHumidity   float64 `json:"targetHumidity"`
	TemperatureScale string  `json:"temperatureScale"`
}
