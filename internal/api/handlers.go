package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/star/radarsim/internal/cache"
	"github.com/star/radarsim/internal/passes"
	"github.com/star/radarsim/internal/sim"
	"github.com/star/radarsim/internal/sun"
)

// maxCommandBody bounds a command request body.
const maxCommandBody = 64 << 10

var errNoCommands = errors.New("no commands in request body")

type commandsResponse struct {
	Accepted int      `json:"accepted"`
	Ignored  []string `json:"ignored,omitempty"` // keys the interpreter does not know
}

// commandsHandler queues a batch of commands.
// POST /api/v1/commands
//
// The body is a JSON command object, a JSON array of them, or (with
// Content-Type text/plain) newline-separated key=value lines. The batch
// is all or nothing: any malformed entry rejects the whole request.
func commandsHandler(logger *slog.Logger, s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			writeError(w, http.StatusBadRequest, "reading request body failed")
			return
		}

		var cmds []sim.Command
		if isPlainText(r.Header.Get("Content-Type")) {
			cmds, err = sim.ParseCommands(string(body))
		} else {
			cmds, err = decodeJSONCommands(body)
		}
		if err == nil && len(cmds) == 0 {
			err = errNoCommands
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		resp := commandsResponse{Accepted: len(cmds)}
		for _, cmd := range cmds {
			if !sim.IsKnownKey(cmd.Key) {
				resp.Ignored = append(resp.Ignored, cmd.Key)
			}
			s.Submit(cmd)
		}
		logger.Debug("commands queued", "count", len(cmds))
		writeJSON(w, http.StatusAccepted, resp)
	}
}

// commandHandler queues one command whose value is the request body.
// POST /api/v1/commands/{key}
func commandHandler(logger *slog.Logger, s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.PathValue("key")
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCommandBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "reading request body failed")
			return
		}
		cmd := sim.Command{Key: key, Value: strings.TrimSpace(string(body))}

		resp := commandsResponse{Accepted: 1}
		if !sim.IsKnownKey(key) {
			resp.Ignored = []string{key}
		}
		s.Submit(cmd)
		logger.Debug("command queued", "key", cmd.Key, "value", cmd.Value)
		writeJSON(w, http.StatusAccepted, resp)
	}
}

func decodeJSONCommands(body []byte) ([]sim.Command, error) {
	body = bytes.TrimSpace(body)
	var cmds []sim.Command
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &cmds); err != nil {
			return nil, fmt.Errorf("invalid JSON command array: %w", err)
		}
	} else {
		var cmd sim.Command
		if err := json.Unmarshal(body, &cmd); err != nil {
			return nil, fmt.Errorf("invalid JSON command: %w", err)
		}
		cmds = []sim.Command{cmd}
	}
	for i, cmd := range cmds {
		if strings.TrimSpace(cmd.Key) == "" {
			return nil, fmt.Errorf("command %d: %w", i, sim.ErrBadCommand)
		}
	}
	return cmds, nil
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/plain"
}

type stateResponse struct {
	Time      time.Time     `json:"time"`
	Requested sim.Requested `json:"requested"`
	Actual    sim.Actual    `json:"actual"`
}

// stateHandler returns the requested and actual state.
// GET /api/v1/state
func stateHandler(s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := s.Snapshot()
		writeJSON(w, http.StatusOK, stateResponse{
			Time:      time.Now().UTC(),
			Requested: snap.Requested,
			Actual:    snap.Actual,
		})
	}
}

type sunResponse struct {
	sun.Position
	Tracking bool `json:"tracking"`
}

// sunHandler returns the sun's position from the site and whether the
// antenna is following it.
// GET /api/v1/sun
func sunHandler(src SunSource, s Simulator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, http.StatusNotFound, "sun tracking not configured")
			return
		}
		writeJSON(w, http.StatusOK, sunResponse{
			Position: src.Position(),
			Tracking: s.Snapshot().Requested.AntennaMode == sim.ModeFollowSun,
		})
	}
}

type sunPassesResponse struct {
	Start        time.Time     `json:"start"`
	Hours        int           `json:"hours"`
	MinElevation float64       `json:"min_elevation"`
	Passes       []passes.Pass `json:"passes"`
}

// sunPassesHandler predicts when the sun is above an elevation mask.
// GET /api/v1/sun/passes?hours=24&min_elevation=0&max=3
func sunPassesHandler(src SunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, http.StatusNotFound, "sun tracking not configured")
			return
		}
		q := r.URL.Query()

		hours := 24
		if v := q.Get("hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 168 {
				writeError(w, http.StatusBadRequest, "invalid hours parameter, must be 1-168")
				return
			}
			hours = n
		}

		minEl := 0.0
		if v := q.Get("min_elevation"); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil || f < -10 || f > 90 {
				writeError(w, http.StatusBadRequest, "invalid min_elevation parameter, must be -10 to 90")
				return
			}
			minEl = f
		}

		maxPasses := 7
		if v := q.Get("max"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 1 || n > 14 {
				writeError(w, http.StatusBadRequest, "invalid max parameter, must be 1-14")
				return
			}
			maxPasses = n
		}

		start := src.Now().UTC()
		found := src.Passes(r.Context(), start, time.Duration(hours)*time.Hour, minEl, maxPasses)
		if found == nil {
			found = []passes.Pass{}
		}
		writeJSON(w, http.StatusOK, sunPassesResponse{
			Start:        start,
			Hours:        hours,
			MinElevation: minEl,
			Passes:       found,
		})
	}
}

type sweepsResponse struct {
	Stats  cache.Stats     `json:"stats"`
	Sweeps []cache.Summary `json:"sweeps"`
}

// sweepsHandler lists the cached sweeps, oldest first.
// GET /api/v1/sweeps
func sweepsHandler(src SweepSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, http.StatusNotFound, "sweep cache not configured")
			return
		}
		writeJSON(w, http.StatusOK, sweepsResponse{Stats: src.Stats(), Sweeps: src.List()})
	}
}

// latestSweepHandler returns the most recent complete sweep with its beams.
// GET /api/v1/sweeps/latest
func latestSweepHandler(src SweepSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, http.StatusNotFound, "sweep cache not configured")
			return
		}
		sw, ok := src.Latest()
		if !ok {
			writeError(w, http.StatusNotFound, "no complete sweep yet")
			return
		}
		writeJSON(w, http.StatusOK, sw)
	}
}

// sweepHandler returns one cached sweep with its beams.
// GET /api/v1/sweeps/{id}
func sweepHandler(src SweepSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if src == nil {
			writeError(w, http.StatusNotFound, "sweep cache not configured")
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil || id < 1 {
			writeError(w, http.StatusBadRequest, "invalid sweep id")
			return
		}
		sw, ok := src.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "sweep not in cache")
			return
		}
		writeJSON(w, http.StatusOK, sw)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
