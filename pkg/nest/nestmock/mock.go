package nestmock

import (
	"context"

	"github.com/rjacobs/nestautohumidity/pkg/nest"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockGateway struct {
	mock.Mock
}

var _ nest.Gateway = (*MockGateway)(nil)

func (m *MockGateway) Structures(ctx context.Context) ([]types.Structure, error) {
	args := m.Called(ctx)
	if v := args.Get(0); v != nil {
		return v.([]types.Structure), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Devices(ctx context.Context, deviceType string) ([]string, error) {
	args := m.Called(ctx, deviceType)
	if v := args.Get(0); v != nil {
		return v.([]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockGateway) Device(ctx context.Context, id string) (types.Thermostat, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.Thermostat), args.Error(1)
}

func (m *MockGateway) SetHumidity(ctx context.Context, target float64, id string) error {
	args := m.Called(ctx, target, id)
	return args.Error(0)
}
