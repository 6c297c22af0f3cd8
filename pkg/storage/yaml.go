package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"gopkg.in/yaml.v3"
)

// YAMLFile implements Provider by reading a YAML document from disk. The file
// is read on every call so edits apply to the next cycle.
type YAMLFile struct {
	path string
}

var _ Provider = (*YAMLFile)(nil)

func configuredYAMLFile() *YAMLFile {
	path := lflag.String("settings-file", "conf/settings.yml", "Path to the YAML settings file")

	y := &YAMLFile{}
	lflag.Do(func() {
		y.path = *path
	})
	return y
}

// NewYAMLFile returns a provider reading the file at path.
func NewYAMLFile(path string) *YAMLFile {
	return &YAMLFile{path: path}
}

// GetSettings reads, parses and validates the settings file.
func (y *YAMLFile) GetSettings(ctx context.Context) (types.Settings, error) {
	b, err := os.ReadFile(y.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return types.Settings{}, fmt.Errorf("%w: %s", ErrSettingsNotFound, y.path)
		}
		return types.Settings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	var doc settingsDocument
	if err := yaml.Unmarshal(b, &doc); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to parse settings file", slog.String("path", y.path), slog.Any("error", err))
		return types.Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
	}
	return doc.settings()
}

// Close implements Provider.
func (y *YAMLFile) Close() error {
	return nil
}
