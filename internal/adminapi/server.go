// Package adminapi exposes SnapshotLifecycle over HTTP so that
// cmd/snapmgrctl — a separate, short-lived process — can drive admission,
// inspection, and health checks against a running cmd/snapmgrd without
// sharing that daemon's in-memory ClusterStateBus. There is no
// replication or wire-format contract here beyond this process boundary:
// internal/clusterbus/memory.Bus never persists SnapshotsInProgress, so
// only the daemon holding it can answer these requests.
//
// Built directly on net/http, the same way pkg/webhook talks HTTP to the
// outside world — the example pack never reaches for a router or RPC
// framework, so there is nothing to adopt in their place.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"path"
	"strings"

	"github.com/jvs-project/snapmgr/internal/lifecycle"
	"github.com/jvs-project/snapmgr/internal/repository"
	"github.com/jvs-project/snapmgr/pkg/config"
	"github.com/jvs-project/snapmgr/pkg/errclass"
	"github.com/jvs-project/snapmgr/pkg/model"
)

// ClusterStateReader is the read-only slice of clusterbus.Bus the
// in-progress list endpoint needs.
type ClusterStateReader interface {
	State() *model.ClusterState
}

// NewHandler builds the admin HTTP API for engine. bus backs the
// in-progress listing, driver backs the finalized-snapshot listing and
// per-snapshot status lookup, and maxOps (optional, may be nil) backs
// the settings endpoint for snapshot.max_concurrent_operations.
func NewHandler(engine *lifecycle.Engine, bus ClusterStateReader, driver repository.Driver, maxOps *config.DynamicSetting[int]) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/snapshots", handleCreate(engine))
	mux.HandleFunc("POST /v1/snapshots/clone", handleClone(engine))
	mux.HandleFunc("DELETE /v1/snapshots", handleDelete(engine))
	mux.HandleFunc("GET /v1/snapshots", handleList(engine, bus))
	mux.HandleFunc("GET /v1/snapshots/finalized", handleFinalized(driver))
	mux.HandleFunc("GET /v1/snapshots/status", handleStatus(driver))
	mux.HandleFunc("GET /v1/settings/max_concurrent_operations", handleGetMaxOps(maxOps))
	mux.HandleFunc("PUT /v1/settings/max_concurrent_operations", handleSetMaxOps(maxOps))
	mux.HandleFunc("GET /healthz", handleHealthz)
	return mux
}

type createBody struct {
	Repository         string           `json:"repository"`
	Name               string           `json:"name"`
	Indices            []model.IndexID  `json:"indices"`
	DataStreams        []string         `json:"data_streams"`
	IncludeGlobalState bool             `json:"include_global_state"`
	Partial            bool             `json:"partial"`
	UserMetadata       map[string]any   `json:"user_metadata"`
	Wait               bool             `json:"wait"`
}

func handleCreate(e *lifecycle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errclass.ErrSnapshotException.WithMessagef("decode request: %v", err))
			return
		}
		req := lifecycle.CreateRequest{
			Repository:         body.Repository,
			Name:               body.Name,
			Indices:            body.Indices,
			DataStreams:        body.DataStreams,
			IncludeGlobalState: body.IncludeGlobalState,
			Partial:            body.Partial,
			UserMetadata:       body.UserMetadata,
		}

		if body.Wait {
			info, err := e.ExecuteSnapshot(r.Context(), req)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
			return
		}

		snap, err := e.CreateSnapshot(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snap)
	}
}

type cloneBody struct {
	Repository string          `json:"repository"`
	Name       string          `json:"name"`
	Source     model.SnapshotID `json:"source"`
	Indices    []model.IndexID `json:"indices"`
	Wait       bool            `json:"wait"`
}

func handleClone(e *lifecycle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body cloneBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errclass.ErrSnapshotException.WithMessagef("decode request: %v", err))
			return
		}
		req := lifecycle.CloneRequest{
			Repository: body.Repository,
			Name:       body.Name,
			Source:     body.Source,
			Indices:    body.Indices,
		}

		if body.Wait {
			info, err := e.ExecuteClone(r.Context(), req)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, info)
			return
		}

		snap, err := e.CloneSnapshot(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, snap)
	}
}

type deleteBody struct {
	Repository string   `json:"repository"`
	Names      []string `json:"names"`
}

func handleDelete(e *lifecycle.Engine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body deleteBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errclass.ErrSnapshotException.WithMessagef("decode request: %v", err))
			return
		}
		if err := e.DeleteSnapshots(r.Context(), lifecycle.DeleteRequest{Repository: body.Repository, Names: body.Names}); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleList(e *lifecycle.Engine, bus ClusterStateReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		repo := r.URL.Query().Get("repository")
		var names []string
		if raw := r.URL.Query().Get("names"); raw != "" {
			names = strings.Split(raw, ",")
		}
		entries := e.CurrentSnapshots(bus.State(), repo, names)
		writeJSON(w, http.StatusOK, entries)
	}
}

// handleFinalized lists the repository's durably-persisted (finalized)
// snapshot catalogue, filtered by name/glob the same way handleList
// filters in-progress entries. This is the only listing a fresh
// cmd/snapmgrctl invocation could reconstruct on its own, since it holds
// no in-memory ClusterStateBus of its own; Client.ListFinalized calls it
// for finalized listings and for resolving a clone's source snapshot.
func handleFinalized(driver repository.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := driver.GetRepositoryData(r.Context())
		if err != nil {
			writeError(w, errclass.ErrRepositoryException.WithMessagef("read repository data: %v", err))
			return
		}
		var names []string
		if raw := r.URL.Query().Get("names"); raw != "" {
			names = strings.Split(raw, ",")
		}
		out := make([]model.SnapshotID, 0, len(data.Snapshots))
		for _, id := range data.Snapshots {
			if matchesAny(id.Name, names) {
				out = append(out, id)
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		if p == "*" || p == "_all" {
			return true
		}
		if ok, _ := path.Match(p, name); ok {
			return true
		}
	}
	return false
}

func handleStatus(driver repository.Driver) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "" {
			writeError(w, errclass.ErrInvalidSnapshotName.WithMessage("name is required"))
			return
		}

		data, err := driver.GetRepositoryData(r.Context())
		if err != nil {
			writeError(w, errclass.ErrRepositoryException.WithMessagef("read repository data: %v", err))
			return
		}
		var id model.SnapshotID
		found := false
		for _, existing := range data.Snapshots {
			if existing.Name == name {
				id, found = existing, true
				break
			}
		}
		if !found {
			writeError(w, errclass.ErrSnapshotMissing.WithMessagef("%s not found", name))
			return
		}

		info, err := driver.GetSnapshotInfo(r.Context(), id)
		if err != nil {
			writeError(w, errclass.ErrSnapshotMissing.WithMessagef("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

type settingBody struct {
	Value int `json:"value"`
}

func handleGetMaxOps(setting *config.DynamicSetting[int]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if setting == nil {
			writeError(w, errclass.ErrSnapshotException.WithMessage("settings endpoint not wired"))
			return
		}
		writeJSON(w, http.StatusOK, settingBody{Value: setting.Get()})
	}
}

func handleSetMaxOps(setting *config.DynamicSetting[int]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if setting == nil {
			writeError(w, errclass.ErrSnapshotException.WithMessage("settings endpoint not wired"))
			return
		}
		var body settingBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, errclass.ErrSnapshotException.WithMessagef("decode request: %v", err))
			return
		}
		if err := setting.Set(body.Value); err != nil {
			writeError(w, errclass.ErrInvalidSnapshotName.WithMessagef("%v", err))
			return
		}
		writeJSON(w, http.StatusOK, settingBody{Value: setting.Get()})
	}
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errStatus maps the stable error classes (errclass, spec section 6) to
// HTTP status codes.
func errStatus(err error) int {
	switch {
	case errors.Is(err, errclass.ErrInvalidSnapshotName), errors.Is(err, errclass.ErrSnapshotException):
		return http.StatusBadRequest
	case errors.Is(err, errclass.ErrSnapshotMissing), errors.Is(err, errclass.ErrRepositoryMissing):
		return http.StatusNotFound
	case errors.Is(err, errclass.ErrConcurrentSnapshotExecution):
		return http.StatusConflict
	case errors.Is(err, errclass.ErrNotClusterManager):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, err error) {
	code := "Internal"
	var se *errclass.SnapError
	if errors.As(err, &se) {
		code = se.Code
	}
	writeJSON(w, errStatus(err), errorBody{Code: code, Message: err.Error()})
}
