package storagemock

import (
	"context"

	"github.com/rjacobs/nestautohumidity/pkg/storage"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockProvider struct {
	mock.Mock
}

var _ storage.Provider = (*MockProvider)(nil)

func (m *MockProvider) GetSettings(ctx context.Context) (types.Settings, error) {
	args := m.Called(ctx)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Error(1)
	}
	return types.Settings{}, nil
}

func (m *MockProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}
