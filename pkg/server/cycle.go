package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/rjacobs/nestautohumidity/pkg/log"
	"github.com/rjacobs/nestautohumidity/pkg/nest"
	"github.com/rjacobs/nestautohumidity/pkg/poller"
	"github.com/rjacobs/nestautohumidity/pkg/types"
)

// settingsError marks a failure to load settings so it can be told apart
// from a gateway failure.
type settingsError struct {
	err error
}

func (e *settingsError) Error() string {
	return fmt.Sprintf("failed to load settings: %v", e.err)
}

func (e *settingsError) Unwrap() error {
	return e.err
}

// newPoller loads the settings and the account's gateway for one cycle.
// Errors are either *settingsError or *nest.ConnectError.
func (s *Server) newPoller(ctx context.Context) (*poller.Poller, error) {
	settings, err := s.storage.GetSettings(ctx)
	if err != nil {
		return nil, &settingsError{err: err}
	}
	gateway, err := s.nest.Gateway(ctx, settings.Credentials)
	if err != nil {
		return nil, err
	}
	return poller.New(gateway, settings, s.controller, s.metrics), nil
}

// writePrepareError reports a newPoller failure without exposing its details.
func writePrepareError(ctx context.Context, w http.ResponseWriter, err error) {
	var ce *nest.ConnectError
	if errors.As(err, &ce) {
		log.Ctx(ctx).ErrorContext(ctx, "failed to connect to nest", slog.Any("error", err))
		writeJSONError(w, "could not connect to nest", http.StatusBadGateway)
		return
	}
	log.Ctx(ctx).ErrorContext(ctx, "failed to load settings", slog.Any("error", err))
	writeJSONError(w, "failed to load settings", http.StatusInternalServerError)
}

// nonNilActions keeps an empty cycle encoding as [] rather than null.
func nonNilActions(actions []types.HumidityAction) []types.HumidityAction {
	if actions == nil {
		return []types.HumidityAction{}
	}
	return actions
}

type pollResponse struct {
	Actions       []types.HumidityAction `json:"actions"`
	Error         string                 `json:"error,omitempty"`
	FailedDevices []string               `json:"failedDevices,omitempty"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.newPoller(ctx)
	if err != nil {
		writePrepareError(ctx, w, err)
		return
	}

	actions, err := p.Poll(ctx)
	actions = nonNilActions(actions)
	if err != nil {
		failed := poller.FailedDevices(err)
		if len(failed) == 0 {
			log.Ctx(ctx).ErrorContext(ctx, "poll failed", slog.Any("error", err))
			writeJSONError(w, "poll failed", http.StatusBadGateway)
			return
		}
		log.Ctx(ctx).ErrorContext(ctx, "poll partially failed", slog.Any("failedDevices", failed))
		writeJSON(w, pollResponse{
			Actions:       actions,
			Error:         "failed to update some thermostats",
			FailedDevices: failed,
		}, http.StatusInternalServerError)
		return
	}

	log.Ctx(ctx).InfoContext(ctx, "poll complete", slog.Int("actions", len(actions)))
	writeJSON(w, pollResponse{Actions: actions}, http.StatusOK)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	p, err := s.newPoller(ctx)
	if err != nil {
		writePrepareError(ctx, w, err)
		return
	}

	info, err := p.Info(ctx)
	if err != nil {
		// the partial snapshot still carries the settings and the error
		log.Ctx(ctx).ErrorContext(ctx, "info failed", slog.Any("error", err))
		writeJSON(w, info, http.StatusBadGateway)
		return
	}
	writeJSON(w, info, http.StatusOK)
}

// RunOnce runs a single poll or info cycle and writes its JSON result to out.
func (s *Server) RunOnce(ctx context.Context, mode string, out io.Writer) error {
	p, err := s.newPoller(ctx)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	switch mode {
	case "poll":
		actions, err := p.Poll(ctx)
		if encErr := enc.Encode(nonNilActions(actions)); encErr != nil {
			return errors.Join(err, encErr)
		}
		return err
	case "info":
		info, err := p.Info(ctx)
		if encErr := enc.Encode(info); encErr != nil {
			return errors.Join(err, encErr)
		}
		return err
	default:
		return fmt.Errorf("unknown mode: %s", mode)
	}
}
