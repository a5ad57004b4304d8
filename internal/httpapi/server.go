package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/service"
)

// Store is the read surface the API serves directly.
type Store interface {
	ListDevices(ctx context.Context, scope model.Scope) ([]model.Device, error)
	GetDevice(ctx context.Context, id string) (*model.Device, error)
	GetDeviceState(ctx context.Context, deviceID string) ([]byte, error)
	ListLogs(ctx context.Context, deviceID string, limit int) ([]model.ActivityLog, error)
	ListBranches(ctx context.Context) ([]model.Branch, error)
	ListBranchesByRegion(ctx context.Context, regionID string) ([]model.Branch, error)
	CreateBranch(ctx context.Context, b *model.Branch) error
	ListRegions(ctx context.Context) ([]model.Region, error)
	CreateRegion(ctx context.Context, r *model.Region) error
}

// Devices is the mutation surface; *service.DeviceService satisfies it.
type Devices interface {
	CreateDevice(ctx context.Context, d *model.Device, userID *string) error
	UpdateDevice(ctx context.Context, id string, fields map[string]any, userID *string) (*model.Device, error)
	DeleteDevice(ctx context.Context, id string) error
	DeleteBranch(ctx context.Context, id string) error
}

// StateReader serves the cached merged record; nil disables the fast path and
// reads fall through to the durable state table.
type StateReader interface {
	Get(ctx context.Context, deviceID string) ([]byte, error)
}

type Server struct {
	store   Store
	devices Devices
	states  StateReader
}

func NewServer(store Store, devices Devices, states StateReader) *Server {
	return &Server{store: store, devices: devices, states: states}
}

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/api/devicestatus/devices", s.handleDeviceCollection)
	mux.HandleFunc("/api/devicestatus/devices/", s.handleDeviceRequest)
	mux.HandleFunc("/api/devicestatus/branches", s.handleBranchCollection)
	mux.HandleFunc("/api/devicestatus/branches/", s.handleBranchRequest)
	mux.HandleFunc("/api/devicestatus/regions", s.handleRegionCollection)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type deviceListItem struct {
	model.Device
	State json.RawMessage `json:"state,omitempty"`
}

func (s *Server) handleDeviceCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleDeviceList(w, r)
	case http.MethodPost:
		s.handleDeviceCreate(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeviceList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	scope := model.Scope{
		BranchID: r.URL.Query().Get("branch_id"),
		RegionID: r.URL.Query().Get("region_id"),
	}
	devices, err := s.store.ListDevices(ctx, scope)
	if err != nil {
		slog.Error("device list query failed", "scope", scope.String(), "error", err)
		http.Error(w, "failed to load devices", http.StatusInternalServerError)
		return
	}
	items := make([]deviceListItem, 0, len(devices))
	for _, d := range devices {
		items = append(items, deviceListItem{Device: d, State: s.loadState(ctx, d.ID)})
	}
	writeJSON(w, http.StatusOK, items)
}

// loadState returns the last published merged record, preferring the cache
// over the durable state table.
func (s *Server) loadState(ctx context.Context, deviceID string) json.RawMessage {
	if s.states != nil {
		if b, err := s.states.Get(ctx, deviceID); err == nil && len(b) > 0 {
			return json.RawMessage(b)
		} else if err != nil {
			slog.Warn("state cache read failed", "device_id", deviceID, "error", err)
		}
	}
	b, err := s.store.GetDeviceState(ctx, deviceID)
	if err != nil {
		slog.Warn("device state lookup failed", "device_id", deviceID, "error", err)
		return nil
	}
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

type createDeviceRequest struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Location    string `json:"location"`
	Notes       string `json:"notes"`
	BranchID    string `json:"branch_id"`
	AssignedPin *int   `json:"assigned_pin"`
}

func (s *Server) handleDeviceCreate(w http.ResponseWriter, r *http.Request) {
	var req createDeviceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}
	if req.BranchID == "" {
		http.Error(w, "branch_id is required", http.StatusBadRequest)
		return
	}
	d := &model.Device{
		Name:        strings.TrimSpace(req.Name),
		Type:        req.Type,
		Location:    req.Location,
		Notes:       req.Notes,
		BranchID:    req.BranchID,
		AssignedPin: req.AssignedPin,
	}
	if err := s.devices.CreateDevice(r.Context(), d, userID(r)); err != nil {
		slog.Error("device create failed", "error", err)
		http.Error(w, "failed to create device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (s *Server) handleDeviceRequest(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/devicestatus/devices/")
	if path == r.URL.Path {
		http.NotFound(w, r)
		return
	}
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 0 || segments[0] == "" {
		s.handleDeviceList(w, r)
		return
	}
	deviceID := segments[0]
	if len(segments) == 1 {
		s.handleDevice(w, r, deviceID)
		return
	}
	switch segments[1] {
	case "logs":
		s.handleDeviceLogs(w, r, deviceID)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request, deviceID string) {
	switch r.Method {
	case http.MethodGet:
		s.handleDeviceGet(w, r, deviceID)
	case http.MethodPatch:
		s.handleDevicePatch(w, r, deviceID)
	case http.MethodDelete:
		s.handleDeviceDelete(w, r, deviceID)
	default:
		w.Header().Set("Allow", "GET, PATCH, DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleDeviceGet(w http.ResponseWriter, r *http.Request, deviceID string) {
	ctx := r.Context()
	d, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		slog.Error("device lookup failed", "device_id", deviceID, "error", err)
		http.Error(w, "device lookup failed", http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, deviceListItem{Device: *d, State: s.loadState(ctx, d.ID)})
}

// allowed patch fields; anything else in the body is rejected so typos don't
// silently no-op.
var patchableFields = map[string]bool{
	"name":         true,
	"type":         true,
	"location":     true,
	"notes":        true,
	"branch_id":    true,
	"status":       true,
	"assigned_pin": true,
}

func (s *Server) handleDevicePatch(w http.ResponseWriter, r *http.Request, deviceID string) {
	var raw map[string]json.RawMessage
	if !decodeBody(w, r, &raw) {
		return
	}
	if len(raw) == 0 {
		http.Error(w, "no fields to update", http.StatusBadRequest)
		return
	}
	fields := make(map[string]any, len(raw))
	for k, v := range raw {
		if !patchableFields[k] {
			http.Error(w, "unknown field "+strconv.Quote(k), http.StatusBadRequest)
			return
		}
		switch k {
		case "assigned_pin":
			if string(v) == "null" {
				fields[k] = nil
				continue
			}
			var pin int
			if err := json.Unmarshal(v, &pin); err != nil {
				http.Error(w, "assigned_pin must be a number or null", http.StatusBadRequest)
				return
			}
			fields[k] = pin
		case "status":
			var status string
			if err := json.Unmarshal(v, &status); err != nil || !validStatus(status) {
				http.Error(w, "status must be online, offline or maintenance", http.StatusBadRequest)
				return
			}
			fields[k] = status
		default:
			var str string
			if err := json.Unmarshal(v, &str); err != nil {
				http.Error(w, k+" must be a string", http.StatusBadRequest)
				return
			}
			fields[k] = str
		}
	}
	updated, err := s.devices.UpdateDevice(r.Context(), deviceID, fields, userID(r))
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("device update failed", "device_id", deviceID, "error", err)
		http.Error(w, "failed to update device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeviceDelete(w http.ResponseWriter, r *http.Request, deviceID string) {
	err := s.devices.DeleteDevice(r.Context(), deviceID)
	if errors.Is(err, service.ErrNotFound) {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("device delete failed", "device_id", deviceID, "error", err)
		http.Error(w, "failed to delete device", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "device_id": deviceID})
}

func (s *Server) handleDeviceLogs(w http.ResponseWriter, r *http.Request, deviceID string) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	logs, err := s.store.ListLogs(r.Context(), deviceID, limit)
	if err != nil {
		slog.Error("log query failed", "device_id", deviceID, "error", err)
		http.Error(w, "failed to load logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleBranchCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		var branches []model.Branch
		var err error
		if regionID := r.URL.Query().Get("region_id"); regionID != "" {
			branches, err = s.store.ListBranchesByRegion(r.Context(), regionID)
		} else {
			branches, err = s.store.ListBranches(r.Context())
		}
		if err != nil {
			slog.Error("branch list query failed", "error", err)
			http.Error(w, "failed to load branches", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, branches)
	case http.MethodPost:
		var b model.Branch
		if !decodeBody(w, r, &b) {
			return
		}
		if strings.TrimSpace(b.Name) == "" || b.RegionID == "" {
			http.Error(w, "name and region_id are required", http.StatusBadRequest)
			return
		}
		if err := s.store.CreateBranch(r.Context(), &b); err != nil {
			slog.Error("branch create failed", "error", err)
			http.Error(w, "failed to create branch", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, b)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleBranchRequest(w http.ResponseWriter, r *http.Request) {
	branchID := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/devicestatus/branches/"), "/")
	if branchID == "" {
		s.handleBranchCollection(w, r)
		return
	}
	if r.Method != http.MethodDelete {
		w.Header().Set("Allow", "DELETE")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.devices.DeleteBranch(r.Context(), branchID); err != nil {
		slog.Error("branch delete failed", "branch_id", branchID, "error", err)
		http.Error(w, "failed to delete branch", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "branch_id": branchID})
}

func (s *Server) handleRegionCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		regions, err := s.store.ListRegions(r.Context())
		if err != nil {
			slog.Error("region list query failed", "error", err)
			http.Error(w, "failed to load regions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, regions)
	case http.MethodPost:
		var reg model.Region
		if !decodeBody(w, r, &reg) {
			return
		}
		if strings.TrimSpace(reg.Name) == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		if err := s.store.CreateRegion(r.Context(), &reg); err != nil {
			slog.Error("region create failed", "error", err)
			http.Error(w, "failed to create region", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, reg)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func validStatus(s string) bool {
	switch model.DeviceStatus(s) {
	case model.StatusOnline, model.StatusOffline, model.StatusMaintenance:
		return true
	}
	return false
}

// userID extracts the acting user forwarded by the gateway, if any.
func userID(r *http.Request) *string {
	if v := r.Header.Get("X-User-ID"); v != "" {
		return &v
	}
	return nil
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return false
	}
	defer r.Body.Close()
	if len(body) == 0 {
		http.Error(w, "request body required", http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
