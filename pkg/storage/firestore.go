package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Provider interface using Google Cloud Firestore.
// The settings live in the "config/settings" document as a JSON string and
// step tables may additionally be stored one per document in "steps".
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

var _ Provider = (*FirestoreProvider)(nil)

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func jsonField(doc *firestore.DocumentSnapshot) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return "", fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	str, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	return str, nil
}

// GetSettings reads the "config/settings" document and merges in the step
// tables of the "steps" collection, which take precedence.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Settings{}, fmt.Errorf("%w: config/settings", ErrSettingsNotFound)
		}
		return types.Settings{}, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	jsonStr, err := jsonField(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "invalid settings doc", slog.Any("err", err))
		return types.Settings{}, err
	}

	var sd settingsDocument
	if err := json.Unmarshal([]byte(jsonStr), &sd); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.Any("err", err))
		return types.Settings{}, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}

	iter := f.client.Collection("steps").Documents(ctx)
	defer iter.Stop()
	for {
		stepDoc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return types.Settings{}, fmt.Errorf("error iterating steps: %w", err)
		}

		jsonStr, err := jsonField(stepDoc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid steps doc", log.Device(stepDoc.Ref.ID), slog.Any("err", err))
			return types.Settings{}, err
		}
		var steps types.StepTable
		if err := json.Unmarshal([]byte(jsonStr), &steps); err != nil {
			return types.Settings{}, fmt.Errorf("failed to unmarshal steps %s: %w", stepDoc.Ref.ID, err)
		}
		if sd.Steps == nil {
			sd.Steps = make(map[string]types.StepTable)
		}
		sd.Steps[stepDoc.Ref.ID] = steps
	}

	return sd.settings()
}
