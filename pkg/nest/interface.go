package nest

import (
	"context"

	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// Gateway is the narrow view of the Nest account that the poller needs.
type Gateway interface {
	// Structures returns every structure of the account with its outdoor
	// weather. A structure whose forecast could not be fetched is returned
	// with a nil Forecast rather than an error.
	Structures(ctx context.Context) ([]types.Structure, error)

	// Devices returns the ids of the devices of the given type.
	Devices(ctx context.Context, deviceType string) ([]string, error)

	// Device returns the current state of a thermostat.
	Device(ctx context.Context, id string) (types.Thermostat, error)

	// SetHumidity sets the target humidity of a thermostat.
	SetHumidity(ctx context.Context, target float64, id string) error
}
