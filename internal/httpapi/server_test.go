package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klubadudel/device-status-central/internal/model"
	"github.com/klubadudel/device-status-central/internal/service"
)

type stubStore struct {
	devices   []model.Device
	lastScope model.Scope
	states    map[string][]byte
	logs      []model.ActivityLog
	lastLimit int
	branches  []model.Branch
	regions   []model.Region
}

var _ Store = (*stubStore)(nil)

func (s *stubStore) ListDevices(ctx context.Context, scope model.Scope) ([]model.Device, error) {
	s.lastScope = scope
	return s.devices, nil
}

func (s *stubStore) GetDevice(ctx context.Context, id string) (*model.Device, error) {
	for _, d := range s.devices {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, nil
}

func (s *stubStore) GetDeviceState(ctx context.Context, deviceID string) ([]byte, error) {
	return s.states[deviceID], nil
}

func (s *stubStore) ListLogs(ctx context.Context, deviceID string, limit int) ([]model.ActivityLog, error) {
	s.lastLimit = limit
	return s.logs, nil
}

func (s *stubStore) ListBranches(ctx context.Context) ([]model.Branch, error) {
	return s.branches, nil
}

func (s *stubStore) ListBranchesByRegion(ctx context.Context, regionID string) ([]model.Branch, error) {
	var out []model.Branch
	for _, b := range s.branches {
		if b.RegionID == regionID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) CreateBranch(ctx context.Context, b *model.Branch) error {
	s.branches = append(s.branches, *b)
	return nil
}

func (s *stubStore) ListRegions(ctx context.Context) ([]model.Region, error) {
	return s.regions, nil
}

func (s *stubStore) CreateRegion(ctx context.Context, r *model.Region) error {
	s.regions = append(s.regions, *r)
	return nil
}

type stubDevices struct {
	created         []model.Device
	updatedFields   map[string]any
	updatedUser     *string
	deleted         []string
	deletedBranches []string
	missing         bool
}

var _ Devices = (*stubDevices)(nil)

func (s *stubDevices) CreateDevice(ctx context.Context, d *model.Device, userID *string) error {
	d.ID = "new-id"
	s.created = append(s.created, *d)
	return nil
}

func (s *stubDevices) UpdateDevice(ctx context.Context, id string, fields map[string]any, userID *string) (*model.Device, error) {
	if s.missing {
		return nil, service.ErrNotFound
	}
	s.updatedFields = fields
	s.updatedUser = userID
	return &model.Device{ID: id, Name: "Fridge A"}, nil
}

func (s *stubDevices) DeleteDevice(ctx context.Context, id string) error {
	if s.missing {
		return service.ErrNotFound
	}
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *stubDevices) DeleteBranch(ctx context.Context, id string) error {
	s.deletedBranches = append(s.deletedBranches, id)
	return nil
}

type stubStateReader struct {
	states map[string][]byte
}

func (s *stubStateReader) Get(ctx context.Context, deviceID string) ([]byte, error) {
	return s.states[deviceID], nil
}

func newTestServer(store *stubStore, devices *stubDevices, states StateReader) *httptest.Server {
	mux := http.NewServeMux()
	NewServer(store, devices, states).Register(mux)
	return httptest.NewServer(mux)
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(&stubStore{}, &stubDevices{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestDeviceListScopeAndState(t *testing.T) {
	store := &stubStore{
		devices: []model.Device{{ID: "d1", Name: "Fridge A", BranchID: "b1"}},
	}
	states := &stubStateReader{states: map[string][]byte{
		"d1": []byte(`{"id":"d1","status":"online"}`),
	}}
	ts := newTestServer(store, &stubDevices{}, states)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/devicestatus/devices?branch_id=b1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if store.lastScope.BranchID != "b1" {
		t.Fatalf("scope = %+v, want branch b1", store.lastScope)
	}

	var items []struct {
		ID    string          `json:"id"`
		State json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "d1" {
		t.Fatalf("items = %+v", items)
	}
	if !strings.Contains(string(items[0].State), `"online"`) {
		t.Fatalf("state not embedded from cache: %s", items[0].State)
	}
}

func TestDeviceCreateValidation(t *testing.T) {
	devices := &stubDevices{}
	ts := newTestServer(&stubStore{}, devices, nil)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/devicestatus/devices", "application/json",
		strings.NewReader(`{"type":"Refrigerator","branch_id":"b1"}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing name", resp.StatusCode)
	}

	resp, err = http.Post(ts.URL+"/api/devicestatus/devices", "application/json",
		strings.NewReader(`{"name":"Fridge A","type":"Refrigerator","branch_id":"b1","assigned_pin":4}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", resp.StatusCode)
	}
	if len(devices.created) != 1 || devices.created[0].BranchID != "b1" {
		t.Fatalf("created = %+v", devices.created)
	}
	if devices.created[0].AssignedPin == nil || *devices.created[0].AssignedPin != 4 {
		t.Fatalf("assigned pin = %v", devices.created[0].AssignedPin)
	}
}

func patchDevice(t *testing.T, url, body string, header map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPatch, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestDevicePatch(t *testing.T) {
	devices := &stubDevices{}
	ts := newTestServer(&stubStore{}, devices, nil)
	defer ts.Close()

	url := ts.URL + "/api/devicestatus/devices/d1"

	resp := patchDevice(t, url, `{"bogus":"x"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("unknown field status = %d, want 400", resp.StatusCode)
	}

	resp = patchDevice(t, url, `{"status":"broken"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid status = %d, want 400", resp.StatusCode)
	}

	resp = patchDevice(t, url, `{"status":"maintenance","assigned_pin":null}`, map[string]string{"X-User-ID": "u1"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if devices.updatedFields["status"] != "maintenance" {
		t.Fatalf("fields = %v", devices.updatedFields)
	}
	if pin, ok := devices.updatedFields["assigned_pin"]; !ok || pin != nil {
		t.Fatalf("assigned_pin = %v (present=%v), want explicit nil", pin, ok)
	}
	if devices.updatedUser == nil || *devices.updatedUser != "u1" {
		t.Fatalf("user = %v", devices.updatedUser)
	}
}

func TestDevicePatchNotFound(t *testing.T) {
	ts := newTestServer(&stubStore{}, &stubDevices{missing: true}, nil)
	defer ts.Close()

	resp := patchDevice(t, ts.URL+"/api/devicestatus/devices/missing", `{"name":"x"}`, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestDeviceDelete(t *testing.T) {
	devices := &stubDevices{}
	ts := newTestServer(&stubStore{}, devices, nil)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/devicestatus/devices/d1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(devices.deleted) != 1 || devices.deleted[0] != "d1" {
		t.Fatalf("deleted = %v", devices.deleted)
	}
}

func TestDeviceLogsLimit(t *testing.T) {
	store := &stubStore{logs: []model.ActivityLog{{DeviceID: "d1", EventType: model.EventDeviceCreated}}}
	ts := newTestServer(store, &stubDevices{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/devicestatus/devices/d1/logs?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if store.lastLimit != 10 {
		t.Fatalf("limit = %d, want 10", store.lastLimit)
	}

	resp2, err := http.Get(ts.URL + "/api/devicestatus/devices/d1/logs?limit=-1")
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("negative limit status = %d, want 400", resp2.StatusCode)
	}
}

func TestBranchDeleteCascades(t *testing.T) {
	devices := &stubDevices{}
	ts := newTestServer(&stubStore{}, devices, nil)
	defer ts.Close()

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/devicestatus/branches/b1", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if len(devices.deletedBranches) != 1 || devices.deletedBranches[0] != "b1" {
		t.Fatalf("deleted branches = %v", devices.deletedBranches)
	}
}

func TestBranchesFilteredByRegion(t *testing.T) {
	store := &stubStore{branches: []model.Branch{
		{ID: "b1", Name: "Central", RegionID: "r1"},
		{ID: "b2", Name: "North", RegionID: "r2"},
	}}
	ts := newTestServer(store, &stubDevices{}, nil)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/devicestatus/branches?region_id=r2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var branches []model.Branch
	if err := json.NewDecoder(resp.Body).Decode(&branches); err != nil {
		t.Fatal(err)
	}
	if len(branches) != 1 || branches[0].ID != "b2" {
		t.Fatalf("branches = %+v", branches)
	}
}
