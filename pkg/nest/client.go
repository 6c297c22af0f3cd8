package nest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rjacobs/nestautohumidity/pkg/common"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/sony/gobreaker"
	"golang.org/x/oauth2"
)

// Client implements Gateway against the Nest REST API.
type Client struct {
	client     *http.Client
	baseURL    string
	weatherURL string
	userID     string
	statusTTL  time.Duration
	breaker    *gobreaker.CircuitBreaker
	rejected   atomic.Bool

	mu           sync.Mutex
	status       *accountStatus
	statusExpiry time.Time
}

var _ Gateway = (*Client)(nil)

type accountStatus struct {
	Structure map[string]structureStatus `json:"structure"`
	Device    map[string]deviceStatus    `json:"device"`
	Shared    map[string]sharedStatus    `json:"shared"`
	Link      map[string]linkStatus      `json:"link"`
	Where     map[string]whereStatus     `json:"where"`
	Topaz     map[string]protectStatus   `json:"topaz"`
}

type structureStatus struct {
	Name          string   `json:"name"`
	Location      string   `json:"location"`
	PostalCode    string   `json:"postal_code"`
	CountryCode   string   `json:"country_code"`
	StreetAddress string   `json:"street_address"`
	Away          bool     `json:"away"`
	AwayTimestamp int64    `json:"away_timestamp"`
	Devices       []string `json:"devices"`
}

type deviceStatus struct {
	WhereID          string  `json:"where_id"`
	CurrentHumidity  float64 `json:"current_humidity"`
	TargetHumidity   float64 `json:"target_humidity"`
	TemperatureScale string  `json:"temperature_scale"`
}

type sharedStatus struct {
	Name string `json:"name"`
}

type linkStatus struct {
	Structure string `json:"structure"`
}

type whereStatus struct {
	Wheres []struct {
		WhereID string `json:"where_id"`
		Name    string `json:"name"`
	} `json:"wheres"`
}

type protectStatus struct {
	StructureID  string `json:"structure_id"`
	SerialNumber string `json:"serial_number"`
}

// newClient builds an authenticated client and validates it by fetching the
// account status.
func newClient(ctx context.Context, cfg Config, creds types.Credentials) (*Client, error) {
	base := common.HTTPClient(cfg.Timeout, http.Header{"X-Nl-Protocol-Version": {"1"}})
	// the token source outlives this call so it must not inherit its deadline
	oauthCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, base)

	userID := creds.UserID
	var src oauth2.TokenSource
	if creds.AccessToken != "" {
		src = oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: creds.AccessToken,
			TokenType:   "Basic",
		})
	} else {
		if creds.Username == "" || creds.Password == "" {
			return nil, &ConnectError{Err: errors.New("missing nest username or password")}
		}
		conf := &oauth2.Config{
			ClientID: cfg.ClientID,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		}
		tokenCtx, cancel := context.WithTimeout(oauthCtx, cfg.Timeout)
		defer cancel()
		token, err := conf.PasswordCredentialsToken(tokenCtx, creds.Username, creds.Password)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "nest token request failed", slog.Any("error", err))
			return nil, &ConnectError{Err: fmt.Errorf("token request failed: %w", err)}
		}
		if userID == "" {
			if v, ok := token.Extra("userid").(string); ok {
				userID = v
			}
		}
		src = conf.TokenSource(oauthCtx, token)
	}
	if userID == "" {
		return nil, &ConnectError{Err: errors.New("missing nest user id")}
	}

	httpClient := oauth2.NewClient(oauthCtx, src)
	httpClient.Timeout = cfg.Timeout

	c := &Client{
		client:     httpClient,
		baseURL:    cfg.BaseURL,
		weatherURL: cfg.WeatherURL,
		userID:     userID,
		statusTTL:  cfg.StatusTTL,
		breaker:    newWeatherBreaker(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.getStatusLocked(ctx); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "nest credential validation failed", slog.Any("error", err))
		return nil, &ConnectError{Err: fmt.Errorf("credential validation failed: %w", err)}
	}
	log.Ctx(ctx).DebugContext(ctx, "nest client ready", slog.String("userID", userID))
	return c, nil
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, data interface{}) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	var body io.Reader
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if data != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-nl-user-id", c.userID)
	return req, nil
}

func (c *Client) doRequest(req *http.Request, dest interface{}) error {
	ctx := req.Context()
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Ctx(ctx).ErrorContext(ctx, "nest api error", slog.Int("status", resp.StatusCode), slog.String("body", string(body)))
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			c.rejected.Store(true)
			return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnauthorized)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}

	if dest == nil {
		log.Ctx(ctx).DebugContext(ctx, "nest request success (no destination)", slog.String("url", req.URL.String()))
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to decode nest response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode nest response: %w", err)
	}
	return nil
}

// Rejected reports whether the API has answered any request with 401 or 403.
func (c *Client) Rejected() bool {
	return c.rejected.Load()
}

// getStatusLocked returns the account status, reusing it for statusTTL.
// c.mu must be held.
func (c *Client) getStatusLocked(ctx context.Context) (*accountStatus, error) {
	if c.status != nil && time.Now().Before(c.statusExpiry) {
		return c.status, nil
	}

	req, err := c.newRequest(ctx, http.MethodGet, "v2/mobile/user."+c.userID, nil)
	if err != nil {
		return nil, err
	}
	var status accountStatus
	if err := c.doRequest(req, &status); err != nil {
		return nil, fmt.Errorf("get status failed: %w", err)
	}
	c.status = &status
	c.statusExpiry = time.Now().Add(c.statusTTL)
	return c.status, nil
}

func (c *Client) getStatus(ctx context.Context) (*accountStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getStatusLocked(ctx)
}

func (c *Client) invalidateStatus() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status = nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Structures returns the account's structures ordered by id, each with its
// outdoor weather in the scale of the structure's thermostats.
func (c *Client) Structures(ctx context.Context) ([]types.Structure, error) {
	status, err := c.getStatus(ctx)
	if err != nil {
		return nil, err
	}

	structures := make([]types.Structure, 0, len(status.Structure))
	for _, id := range sortedKeys(status.Structure) {
		st := status.Structure[id]

		thermostats := make([]string, 0, len(st.Devices))
		for _, d := range st.Devices {
			thermostats = append(thermostats, strings.TrimPrefix(d, "device."))
		}
		var protects []string
		for _, serial := range sortedKeys(status.Topaz) {
			if status.Topaz[serial].StructureID == id {
				protects = append(protects, status.Topaz[serial].SerialNumber)
			}
		}

		scale := "C"
		if len(thermostats) > 0 {
			if d, ok := status.Device[thermostats[0]]; ok && d.TemperatureScale != "" {
				scale = d.TemperatureScale
			}
		}

		s := types.Structure{
			ID:            id,
			Name:          st.Name,
			Address:       st.StreetAddress,
			City:          st.Location,
			PostalCode:    st.PostalCode,
			Country:       st.CountryCode,
			Away:          st.Away,
			ThermostatIDs: thermostats,
			ProtectIDs:    protects,
		}
		if st.AwayTimestamp > 0 {
			s.AwayLastChanged = time.Unix(st.AwayTimestamp, 0)
		}

		w, err := c.getWeather(ctx, st.PostalCode, st.CountryCode)
		switch {
		case errors.Is(err, errForecastUnavailable):
			log.Ctx(ctx).WarnContext(ctx, "forecast unavailable", log.Structure(id), slog.Any("error", err))
		case err != nil:
			return nil, fmt.Errorf("weather for structure %s: %w", id, err)
		default:
			w.apply(&s, scale)
		}
		structures = append(structures, s)
	}
	return structures, nil
}

// Devices returns the serials of the account's devices of deviceType.
func (c *Client) Devices(ctx context.Context, deviceType string) ([]string, error) {
	status, err := c.getStatus(ctx)
	if err != nil {
		return nil, err
	}
	switch deviceType {
	case types.DeviceTypeThermostat:
		return sortedKeys(status.Device), nil
	case types.DeviceTypeProtect:
		return sortedKeys(status.Topaz), nil
	default:
		return nil, fmt.Errorf("unknown device type: %s", deviceType)
	}
}

// Device returns the state of the thermostat with the given serial.
func (c *Client) Device(ctx context.Context, id string) (types.Thermostat, error) {
	status, err := c.getStatus(ctx)
	if err != nil {
		return types.Thermostat{}, err
	}
	d, ok := status.Device[id]
	if !ok {
		return types.Thermostat{}, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
	}

	structureID := strings.TrimPrefix(status.Link[id].Structure, "structure.")
	t := types.Thermostat{
		ID:               id,
		StructureID:      structureID,
		Name:             status.Shared[id].Name,
		CurrentHumidity:  d.CurrentHumidity,
		TargetHumidity:   d.TargetHumidity,
		TemperatureScale: d.TemperatureScale,
	}
	for _, w := range status.Where[structureID].Wheres {
		if w.WhereID == d.WhereID {
			t.Where = w.Name
			break
		}
	}
	return t, nil
}

// SetHumidity sets the target humidity of the thermostat with the given
// serial.
func (c *Client) SetHumidity(ctx context.Context, target float64, id string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "v2/put/device."+id, map[string]interface{}{
		"target_humidity": target,
	})
	if err != nil {
		return err
	}
	if err := c.doRequest(req, nil); err != nil {
		return fmt.Errorf("set humidity on %s failed: %w", id, err)
	}
	// the cached status no longer reflects the device
	c.invalidateStatus()
	log.Ctx(ctx).DebugContext(ctx, "nest humidity set", log.Device(id), slog.Float64("target", target))
	return nil
}
