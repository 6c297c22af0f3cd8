package nest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// ErrDeviceNotFound is returned by Device when the account has no such
// thermostat.
var ErrDeviceNotFound = errors.New("device not found")

// ErrUnauthorized is wrapped by any request the API answers with 401 or 403.
var ErrUnauthorized = errors.New("nest rejected the credentials")

// ConnectError is returned when a client for the account could not be built,
// for example because the credentials were rejected.
type ConnectError struct {
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to nest: %v", e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Config holds the endpoints and timings of the Nest client.
type Config struct {
	BaseURL    string
	WeatherURL string
	TokenURL   string
	ClientID   string
	// StatusTTL is how long the account status document is reused.
	StatusTTL time.Duration
	Timeout   time.Duration
}

// DefaultConfig returns the production endpoints.
func DefaultConfig() Config {
	return Config{
		BaseURL:    "https://home.nest.com",
		WeatherURL: "https://home.nest.com/api/0.1/weather/forecast",
		TokenURL:   "https://home.nest.com/oauth2/access_token",
		ClientID:   "nest-auto-humidity",
		StatusTTL:  30 * time.Second,
		Timeout:    time.Minute,
	}
}

// Configured sets up the gateway Map from flags.
func Configured() *Map {
	def := DefaultConfig()
	baseURL := lflag.String("nest-api-url", def.BaseURL, "Base URL of the Nest API")
	weatherURL := lflag.String("nest-weather-url", def.WeatherURL, "URL of the Nest weather forecast endpoint")
	tokenURL := lflag.String("nest-token-url", def.TokenURL, "OAuth2 token URL used when no access token is configured")
	clientID := lflag.String("nest-client-id", def.ClientID, "OAuth2 client id used for the password grant")
	statusTTL := lflag.Duration("nest-status-ttl", def.StatusTTL, "How long to reuse the account status document")
	timeout := lflag.Duration("nest-timeout", def.Timeout, "Timeout for requests to the Nest API")

	m := NewMap(def)
	lflag.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.cfg = Config{
			BaseURL:    *baseURL,
			WeatherURL: *weatherURL,
			TokenURL:   *tokenURL,
			ClientID:   *clientID,
			StatusTTL:  *statusTTL,
			Timeout:    *timeout,
		}
	})
	return m
}

// Map manages one gateway per Nest account. A cached gateway is rebuilt
// when the account's credentials change or the API starts rejecting them.
type Map struct {
	mu       sync.Mutex
	cfg      Config
	gateways map[string]mapEntry
}

type mapEntry struct {
	fingerprint string
	gateway     Gateway
}

// rejecter is implemented by gateways that track whether the API has
// refused their credentials.
type rejecter interface {
	Rejected() bool
}

// NewMap creates a new gateway Map.
func NewMap(cfg Config) *Map {
	return &Map{
		cfg:      cfg,
		gateways: make(map[string]mapEntry),
	}
}

func accountKey(creds types.Credentials) string {
	return creds.Username + "/" + creds.UserID
}

// fingerprint covers every credential field so a rotated token or password
// never matches the cached client.
func fingerprint(creds types.Credentials) string {
	h := sha256.New()
	for _, v := range []string{creds.Username, creds.Password, creds.AccessToken, creds.UserID} {
		h.Write([]byte(v))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Gateway returns the gateway for the account in creds, creating and
// validating a client the first time the credentials are seen. Failures are
// returned as *ConnectError.
func (m *Map) Gateway(ctx context.Context, creds types.Credentials) (Gateway, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := accountKey(creds)
	fp := fingerprint(creds)
	if e, ok := m.gateways[key]; ok {
		r, tracked := e.gateway.(rejecter)
		switch {
		case e.fingerprint != fp:
			log.Ctx(ctx).InfoContext(ctx, "nest credentials changed, rebuilding client")
		case tracked && r.Rejected():
			log.Ctx(ctx).WarnContext(ctx, "nest rejected cached credentials, rebuilding client")
		default:
			return e.gateway, nil
		}
		delete(m.gateways, key)
	}

	c, err := newClient(ctx, m.cfg, creds)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build nest client", slog.Any("error", err))
		var ce *ConnectError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &ConnectError{Err: err}
	}
	m.gateways[key] = mapEntry{fingerprint: fp, gateway: c}
	return c, nil
}

// SetGateway sets the gateway for an account. This is primarily used for testing.
func (m *Map) SetGateway(creds types.Credentials, g Gateway) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gateways[accountKey(creds)] = mapEntry{fingerprint: fingerprint(creds), gateway: g}
}
