package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"axle-sync-backend/config"
	"axle-sync-backend/internal/events"
	"axle-sync-backend/internal/filter"
	"axle-sync-backend/internal/legacy"
	"axle-sync-backend/internal/model"
	"axle-sync-backend/internal/parse"
	"axle-sync-backend/internal/pipeline"
	"axle-sync-backend/internal/query"
	"axle-sync-backend/internal/store"
	"axle-sync-backend/internal/vendor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLegacy struct {
	mu     sync.Mutex
	root   query.Root
	params query.Params
	result legacy.Result
	err    error
}

func (f *fakeLegacy) Query(_ context.Context, root query.Root, p query.Params) (legacy.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.root, f.params = root, p
	return f.result, f.err
}

type fakeIntegration struct {
	records map[int64]model.Record
	page    store.Page
	scanErr error
}

func (f *fakeIntegration) Scan(_ context.Context, raw string) (model.Record, error) {
	if f.scanErr != nil {
		return model.Record{}, f.scanErr
	}
	code, err := parse.Barcode(raw)
	if err != nil {
		return model.Record{}, err
	}
	rec := model.Record{ID: int64(len(f.records) + 1), BarCode: code, AxleID: "67444"}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeIntegration) Upload(_ context.Context, id int64) (model.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("kh_barcodes #%d: %w", id, store.ErrNotFound)
	}
	if rec.AxleID == "" {
		return model.Record{}, &vendor.RemoteError{Integration: "kh", Op: "upload", Status: 200, Code: "false", Body: `{"Success":false}`}
	}
	rec.Uploaded = true
	f.records[id] = rec
	return rec, nil
}

func (f *fakeIntegration) List(_ context.Context, page store.Page) ([]model.Record, int64, error) {
	f.page = page
	rows := []model.Record{}
	for _, rec := range f.records {
		rows = append(rows, rec)
	}
	return rows, int64(len(rows)), nil
}

func (f *fakeIntegration) Delete(_ context.Context, id int64) (model.Record, error) {
	rec, ok := f.records[id]
	if !ok {
		return model.Record{}, fmt.Errorf("kh_barcodes #%d: %w", id, store.ErrNotFound)
	}
	delete(f.records, id)
	return rec, nil
}

type fakeStatus pipeline.Status

func (f fakeStatus) Status() pipeline.Status { return pipeline.Status(f) }

type testEnv struct {
	router *gin.Engine
	legacy *fakeLegacy
	kh     *fakeIntegration
	config *config.Store
	bus    *events.Bus
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&model.PushSubscription{}))

	cfg := config.Defaults()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	env := &testEnv{
		legacy: &fakeLegacy{},
		kh:     &fakeIntegration{records: map[int64]model.Record{}},
		config: config.NewStore("", cfg),
		bus:    events.NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)), 50),
	}
	t.Cleanup(env.bus.Close)

	h := NewHandler(Options{
		DB:           db,
		Config:       env.config,
		Legacy:       env.legacy,
		Integrations: map[string]Integration{"kh": env.kh},
		Schedulers: map[string]StatusReporter{
			"kh": fakeStatus{Integration: "kh", State: pipeline.StateScheduled, Enabled: true},
		},
		Events:  env.bus,
		WebPush: &webpush.Options{VAPIDPublicKey: "BPublicKey"},
	})
	env.router = NewRouter(h, env.config.Get().Server)
	return env
}

func (e *testEnv) do(method, target string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)

	w = env.do(http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestQueryLegacy(t *testing.T) {
	env := newTestEnv(t)
	env.legacy.result = legacy.Result{
		Total: 5,
		Rows: []legacy.Row{{
			"szIDs":  "D4",
			"nAtten": math.NaN(),
			"with":   []legacy.Row{{"opid": "D4", "nDBFlaw": math.Inf(1), "nChannel": int64(8)}},
		}},
	}

	filters := `[{"type":"equal","field":"szIDsWheel","value":"67444"},{"type":"like","field":"szResult","value":"故"}]`
	target := "/api/legacy/root/detections?pageIndex=1&pageSize=2&with=true&filters=" + url.QueryEscape(filters)
	w := env.do(http.MethodGet, target, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"total":5,"rows":[{"szIDs":"D4","nAtten":null,"with":[{"opid":"D4","nDBFlaw":null,"nChannel":8}]}]}`, w.Body.String())

	assert.Equal(t, query.RootDB, env.legacy.root)
	assert.Equal(t, "detections", env.legacy.params.Table)
	assert.Equal(t, 1, env.legacy.params.PageIndex)
	assert.Equal(t, 2, env.legacy.params.PageSize)
	assert.True(t, env.legacy.params.With)
	require.Len(t, env.legacy.params.Filters, 2)
	assert.Equal(t, filter.TypeEqual, env.legacy.params.Filters[0].Type)
	assert.Equal(t, "67444", env.legacy.params.Filters[0].Value)

	t.Run("unknown root", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/legacy/other/detections", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("malformed filters", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/legacy/app/corporation?filters=%5B", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("worker failure", func(t *testing.T) {
		env.legacy.err = fmt.Errorf("%w: verifies: exit status 2", legacy.ErrWorker)
		w := env.do(http.MethodGet, "/api/legacy/root/verifies", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"error":"legacy reader failed: verifies: exit status 2"}`, w.Body.String())
	})
}

func TestRecordActions(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/integrations/kh/scan", gin.H{"barCode": " lz123 "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var rec model.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, "LZ123", rec.BarCode)

	w = env.do(http.MethodPost, fmt.Sprintf("/api/integrations/kh/records/%d/upload", rec.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"uploaded":true`)

	w = env.do(http.MethodDelete, fmt.Sprintf("/api/integrations/kh/records/%d", rec.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	testCases := []struct {
		name     string
		method   string
		target   string
		body     any
		wantCode int
		wantBody string
	}{
		{"unknown integration", http.MethodPost, "/api/integrations/acme/scan", gin.H{"barCode": "LZ1"}, http.StatusNotFound, `{"error":"unknown integration acme"}`},
		{"missing barcode", http.MethodPost, "/api/integrations/kh/scan", gin.H{}, http.StatusBadRequest, ""},
		{"invalid barcode", http.MethodPost, "/api/integrations/kh/scan", gin.H{"barCode": "#"}, http.StatusUnprocessableEntity, `{"error":"invalid barcode: \"#\""}`},
		{"bad id", http.MethodPost, "/api/integrations/kh/records/abc/upload", nil, http.StatusBadRequest, `{"error":"Invalid record ID"}`},
		{"missing record", http.MethodDelete, "/api/integrations/kh/records/42", nil, http.StatusNotFound, `{"error":"kh_barcodes #42: record not found"}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := env.do(tc.method, tc.target, tc.body)
			assert.Equal(t, tc.wantCode, w.Code)
			if tc.wantBody != "" {
				assert.JSONEq(t, tc.wantBody, w.Body.String())
			}
		})
	}

	t.Run("remote failure text reaches the caller unchanged", func(t *testing.T) {
		env.kh.records[9] = model.Record{ID: 9, BarCode: "LZ9"}
		w := env.do(http.MethodPost, "/api/integrations/kh/records/9/upload", nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.JSONEq(t, `{"error":"kh upload: HTTP 200, vendor code false: {\"Success\":false}"}`, w.Body.String())
	})
}

func TestListRecords(t *testing.T) {
	env := newTestEnv(t)
	env.kh.records[1] = model.Record{ID: 1, BarCode: "LZ1"}

	w := env.do(http.MethodGet, "/api/integrations/kh/records?pageIndex=2&pageSize=5&startDate=2026-10-01&endDate=2026-10-16&uploaded=false", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"count":1`)

	page := env.kh.page
	assert.Equal(t, 2, page.Index)
	assert.Equal(t, 5, page.Size)
	loc := env.config.Get().Location()
	require.NotNil(t, page.Start)
	assert.True(t, page.Start.Equal(time.Date(2026, 10, 1, 0, 0, 0, 0, loc)))
	require.NotNil(t, page.End)
	assert.True(t, page.End.Equal(time.Date(2026, 10, 17, 0, 0, 0, 0, loc).Add(-time.Nanosecond)))
	require.NotNil(t, page.Uploaded)
	assert.False(t, *page.Uploaded)

	w = env.do(http.MethodGet, "/api/integrations/kh/records?startDate=16/10/2026", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSettings(t *testing.T) {
	env := newTestEnv(t)

	var notified []config.IntegrationConfig
	env.config.OnChange(func(_, next config.Config) {
		notified = append(notified, next.Integrations["kh"])
	})

	w := env.do(http.MethodPut, "/api/integrations/kh/settings", gin.H{"enabled": true, "unit_code": "K01"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var full config.Config
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &full))
	kh := full.Integrations["kh"]
	assert.True(t, kh.Enabled)
	assert.Equal(t, "K01", kh.UnitCode)
	assert.Equal(t, 30, kh.IntervalSeconds, "fields left out keep their value")
	assert.Contains(t, full.Integrations, "jtv", "the whole configuration is returned")

	require.Len(t, notified, 1)
	assert.True(t, notified[0].Enabled)

	w = env.do(http.MethodGet, "/api/integrations/kh/settings", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"unit_code":"K01"`)
}

func TestStatusAndLogs(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/api/integrations/kh/status", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"integration":"kh","state":"scheduled","enabled":true}`, w.Body.String())

	w = env.do(http.MethodGet, "/api/integrations", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"integration":"kh","state":"scheduled","enabled":true}]`, w.Body.String())

	env.bus.Source("kh").Log(events.LevelError, "record #1: HTTP 500")
	env.bus.Source("jtv").Log(events.LevelInfo, "pass finished")

	w = env.do(http.MethodGet, "/api/logs?source=kh", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	var logs []events.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "record #1: HTTP 500", logs[0].Message)
}

func TestSubscriptions(t *testing.T) {
	env := newTestEnv(t)
	endpoint := "https://push.example.com/send/abc"

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodPut, "/api/subscriptions", nil)
		env.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"invalid request"}`, w.Body.String())
	})

	t.Run("unknown integration", func(t *testing.T) {
		w := env.do(http.MethodPut, "/api/subscriptions", gin.H{"endpoint": endpoint, "p256dh": "k", "auth": "a", "integrations": []string{"acme"}})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	w := env.do(http.MethodPut, "/api/subscriptions", gin.H{"endpoint": endpoint, "p256dh": "k", "auth": "a", "integrations": []string{"kh"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Subscribing again replaces the integration list.
	w = env.do(http.MethodPut, "/api/subscriptions", gin.H{"endpoint": endpoint, "p256dh": "k2", "auth": "a2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"integrations":[]}`, w.Body.String())

	w = env.do(http.MethodDelete, "/api/subscriptions", gin.H{"endpoint": endpoint})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(http.MethodGet, "/api/subscriptions?endpoint="+endpoint, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(http.MethodGet, "/api/vapid_public_key", nil)
	assert.JSONEq(t, `{"public_key":"BPublicKey"}`, w.Body.String())
}
