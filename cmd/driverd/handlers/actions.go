// Package handlers provides REST API handlers over the offline manager.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	apperrors "github.com/kimhsiao/driverq/internal/errors"
	"github.com/kimhsiao/driverq/internal/logging"
	"github.com/kimhsiao/driverq/internal/models"
	"github.com/kimhsiao/driverq/internal/offline"
)

// Builder endpoint kinds under /api/actions/{kind}.
const (
	KindLocation     = "location"
	KindAvailability = "availability"
	KindClaim        = "claim"
	KindDecline      = "decline"
	KindProgress     = "progress"
)

// ActionHandler serves the offline queue.
type ActionHandler struct {
	mgr *offline.Manager
}

// NewActionHandler creates a new ActionHandler.
func NewActionHandler(mgr *offline.Manager) *ActionHandler {
	return &ActionHandler{mgr: mgr}
}

// Register adds every route of the handler to r.
func (h *ActionHandler) Register(r *mux.Router) {
	r.HandleFunc("/api/actions", h.QueueAction).Methods(http.MethodPost)
	r.HandleFunc("/api/actions", h.ListActions).Methods(http.MethodGet)
	r.HandleFunc("/api/actions", h.ClearActions).Methods(http.MethodDelete)
	r.HandleFunc("/api/actions/stats", h.Stats).Methods(http.MethodGet)
	r.HandleFunc("/api/actions/{kind}", h.QueueKind).Methods(http.MethodPost)
	r.HandleFunc("/api/sync", h.Sync).Methods(http.MethodPost)
	r.HandleFunc("/api/state", h.State).Methods(http.MethodGet)
	r.HandleFunc("/api/connectivity", h.SetConnectivity).Methods(http.MethodPost)
}

type queuedResponse struct {
	ID models.UUID `json:"id"`
}

// QueueAction handles POST /api/actions with a raw action descriptor.
func (h *ActionHandler) QueueAction(w http.ResponseWriter, r *http.Request) {
	var d models.Descriptor
	if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	id, err := h.mgr.QueueAction(r.Context(), d)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, queuedResponse{ID: id})
}

type kindRequest struct {
	Lat     float64                `json:"lat"`
	Lng     float64                `json:"lng"`
	Status  string                 `json:"status"`
	JobID   string                 `json:"job_id"`
	Reason  string                 `json:"reason"`
	Step    string                 `json:"step"`
	Payload map[string]interface{} `json:"payload"`
}

// QueueKind handles POST /api/actions/{kind} for the typed builders.
func (h *ActionHandler) QueueKind(w http.ResponseWriter, r *http.Request) {
	var req kindRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(apperrors.ErrInvalid, "invalid request body", err))
		return
	}

	ctx := r.Context()
	var (
		id  models.UUID
		err error
	)
	switch kind := mux.Vars(r)["kind"]; kind {
	case KindLocation:
		id, err = h.mgr.QueueLocationUpdate(ctx, req.Lat, req.Lng)
	case KindAvailability:
		id, err = h.mgr.QueueAvailabilityUpdate(ctx, req.Status)
	case KindClaim:
		id, err = h.mgr.QueueJobClaim(ctx, req.JobID)
	case KindDecline:
		id, err = h.mgr.QueueJobDecline(ctx, req.JobID, req.Reason)
	case KindProgress:
		id, err = h.mgr.QueueJobProgress(ctx, req.JobID, req.Step, req.Payload)
	default:
		writeError(w, apperrors.Newf(apperrors.ErrNotFound, "unknown action kind %q", kind))
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, queuedResponse{ID: id})
}

// ListActions handles GET /api/actions[?type=].
func (h *ActionHandler) ListActions(w http.ResponseWriter, r *http.Request) {
	t := models.ActionType(r.URL.Query().Get("type"))
	if t == "" {
		writeJSON(w, http.StatusOK, h.mgr.GetState().PendingActions)
		return
	}
	if !t.Valid() {
		writeError(w, apperrors.Newf(apperrors.ErrInvalid, "unknown action type %q", t))
		return
	}

	actions := h.mgr.GetPendingActionsByType(t)
	if actions == nil {
		actions = []*models.OfflineAction{}
	}
	writeJSON(w, http.StatusOK, actions)
}

// ClearActions handles DELETE /api/actions.
func (h *ActionHandler) ClearActions(w http.ResponseWriter, r *http.Request) {
	if err := h.mgr.ClearAllActions(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/actions/stats.
func (h *ActionHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.PendingStats())
}

// Sync handles POST /api/sync. A skipped pass is still a 200 with the
// skip reason in the body.
func (h *ActionHandler) Sync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.SyncPendingActions(r.Context()))
}

// State handles GET /api/state.
func (h *ActionHandler) State(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mgr.GetState())
}

type connectivityRequest struct {
	Online *bool `json:"online"`
}

type connectivityResponse struct {
	Changed bool                `json:"changed"`
	State   models.OfflineState `json:"state"`
}

// SetConnectivity handles POST /api/connectivity, the platform signal.
func (h *ActionHandler) SetConnectivity(w http.ResponseWriter, r *http.Request) {
	var req connectivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Online == nil {
		writeError(w, apperrors.New(apperrors.ErrInvalid, `body must be {"online": bool}`))
		return
	}

	changed := h.mgr.SetOnline(*req.Online)
	writeJSON(w, http.StatusOK, connectivityResponse{Changed: changed, State: h.mgr.GetState()})
}

// Health handles GET /api/health.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "driverd"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	if apperrors.Is(err, apperrors.ErrStorageQuota) {
		code = apperrors.ErrStorageQuota
	}
	status := statusFor(code)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithCode("Request failed", string(code), err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: string(code)})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrInvalid:
		return http.StatusBadRequest
	case apperrors.ErrNotFound:
		return http.StatusNotFound
	case apperrors.ErrOffline:
		return http.StatusServiceUnavailable
	case apperrors.ErrStorageQuota:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}
