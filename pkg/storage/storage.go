package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

var (
	ErrSettingsNotFound = errors.New("settings not found")
)

// Provider loads the settings that drive a cycle.
type Provider interface {
	// GetSettings returns validated settings. A missing default step table
	// is reported as types.ErrMissingDefaultSteps.
	GetSettings(ctx context.Context) (types.Settings, error)

	// Lifecycle
	Close() error
}

// Configured sets up the settings Provider based on flags.
func Configured() Provider {
	provider := lflag.String("settings-provider", "file", "Settings provider to use (available: file, firestore)")

	var p struct{ Provider }

	file := configuredYAMLFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			p.Provider = file
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Provider = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown settings provider: %s", *provider))
		}
	})

	return &p
}

// settingsDocument is the stored form of the settings shared by every
// provider. Step tables are keyed by thermostat serial with
// types.DefaultStepsKey for the default table.
type settingsDocument struct {
	Nest        types.Credentials          `json:"nest" yaml:"nest"`
	Steps       map[string]types.StepTable `json:"steps" yaml:"steps"`
	LatencyDays int                        `json:"latency_days" yaml:"latency_days"`
	DryRun      bool                       `json:"dry_run" yaml:"dry_run"`
}

// credentialsFromEnv fills credentials missing from the document from the
// environment, which main may have populated from a .env file.
func credentialsFromEnv(c types.Credentials) types.Credentials {
	fill := func(v *string, key string) {
		if *v == "" {
			*v = os.Getenv(key)
		}
	}
	fill(&c.Username, "NEST_USERNAME")
	fill(&c.Password, "NEST_PASSWORD")
	fill(&c.AccessToken, "NEST_ACCESS_TOKEN")
	fill(&c.UserID, "NEST_USER_ID")
	return c
}

func (d settingsDocument) settings() (types.Settings, error) {
	s := types.Settings{
		Credentials:  credentialsFromEnv(d.Nest),
		DefaultSteps: d.Steps[types.DefaultStepsKey],
		LatencyDays:  d.LatencyDays,
		DryRun:       d.DryRun,
	}
	for id, steps := range d.Steps {
		if id == types.DefaultStepsKey {
			continue
		}
		if s.DeviceSteps == nil {
			s.DeviceSteps = make(map[string]types.StepTable)
		}
		s.DeviceSteps[id] = steps
	}
	if err := s.Validate(); err != nil {
		return types.Settings{}, err
	}
	return s, nil
}
