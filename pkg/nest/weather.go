package nest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/sony/gobreaker"
)

// errForecastUnavailable marks answers from the forecast endpoint that carry
// no usable weather, such as an HTML error page. The structure is then
// reported without weather instead of failing.
var errForecastUnavailable = errors.New("forecast unavailable")

func newWeatherBreaker() *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "nest-weather",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     5 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// weatherResult is the forecast endpoint's answer. Temperatures are Celsius.
type weatherResult struct {
	Now *struct {
		CurrentTemperature *float64 `json:"current_temperature"`
		CurrentHumidity    float64  `json:"current_humidity"`
	} `json:"now"`
	Forecast *struct {
		Hourly []struct {
			Time int64   `json:"time"`
			Temp float64 `json:"temp"`
		} `json:"hourly"`
		Daily []struct {
			Date            int64   `json:"date"`
			LowTemperature  float64 `json:"low_temperature"`
			HighTemperature float64 `json:"high_temperature"`
		} `json:"daily"`
	} `json:"forecast"`
}

func toScale(celsius float64, scale string) float64 {
	if strings.EqualFold(scale, "F") {
		return celsius*9/5 + 32
	}
	return celsius
}

// apply copies the weather into the structure converting every temperature
// to scale.
func (w weatherResult) apply(s *types.Structure, scale string) {
	if w.Now != nil && w.Now.CurrentTemperature != nil {
		s.OutsideTemperature = toScale(*w.Now.CurrentTemperature, scale)
		s.OutsideHumidity = w.Now.CurrentHumidity
		s.WeatherAvailable = true
	}
	if w.Forecast == nil {
		return
	}
	f := &types.Forecast{
		Hourly: make([]types.HourlyForecast, 0, len(w.Forecast.Hourly)),
		Daily:  make([]types.DailyForecast, 0, len(w.Forecast.Daily)),
	}
	for _, h := range w.Forecast.Hourly {
		f.Hourly = append(f.Hourly, types.HourlyForecast{
			Time: time.Unix(h.Time, 0),
			Temp: toScale(h.Temp, scale),
		})
	}
	for _, d := range w.Forecast.Daily {
		f.Daily = append(f.Daily, types.DailyForecast{
			Date:            time.Unix(d.Date, 0),
			LowTemperature:  toScale(d.LowTemperature, scale),
			HighTemperature: toScale(d.HighTemperature, scale),
		})
	}
	s.Forecast = f
}

func (c *Client) getWeather(ctx context.Context, postalCode, countryCode string) (weatherResult, error) {
	location := postalCode
	if countryCode != "" {
		location += "," + countryCode
	}
	u := strings.TrimSuffix(c.weatherURL, "/") + "/" + url.PathEscape(location)

	res, err := c.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: status %d", errForecastUnavailable, resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		var w weatherResult
		if err := json.Unmarshal(body, &w); err != nil {
			return nil, fmt.Errorf("%w: %v", errForecastUnavailable, err)
		}
		return w, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return weatherResult{}, err
		}
		if errors.Is(err, errForecastUnavailable) {
			return weatherResult{}, err
		}
		// open breaker or transport failure
		return weatherResult{}, fmt.Errorf("%w: %v", errForecastUnavailable, err)
	}
	return res.(weatherResult), nil
}
