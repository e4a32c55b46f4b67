package app

import (
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/mrcode/nightscout-delta/internal/delta"
	"github.com/mrcode/nightscout-delta/internal/models"
)

var base = time.UnixMilli(1_700_000_000_000)

func entryAt(sgv int, offset time.Duration) models.GlucoseEntry {
	return models.GlucoseEntry{SGV: sgv, Date: base.Add(offset).UnixMilli()}
}

func newTestApp(t *testing.T, settings *models.Settings) *App {
	t.Helper()
	a, err := New(settings, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestNew_InvalidDeltaSettings(t *testing.T) {
	settings := models.DefaultSettings()
	settings.Delta.Intervals = "rounded"

	if _, err := New(settings, nil); err == nil {
		t.Error("Expected error for unknown interval mode")
	}
}

func TestNew_ClientOnlyWhenConfigured(t *testing.T) {
	a := newTestApp(t, models.DefaultSettings())
	if a.client != nil {
		t.Error("client should be nil without a URL")
	}

	if _, err := a.FetchStatus(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("FetchStatus() error = %v, want ErrNotConfigured", err)
	}
	if _, err := a.CheckConnection(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("CheckConnection() error = %v, want ErrNotConfigured", err)
	}
}

func TestStatusFromEntries(t *testing.T) {
	tests := []struct {
		name      string
		entries   []models.GlucoseEntry
		current   *models.GlucoseEntry
		wantValue int
		wantDelta float64
		wantMeth  string
		wantDir   string
	}{
		{
			name: "newest entry is current",
			entries: []models.GlucoseEntry{
				entryAt(95, 6*time.Minute),
				entryAt(120, 10*time.Minute),
				entryAt(105, 4*time.Minute),
			},
			wantValue: 120,
			wantDelta: 20,
			wantMeth:  "interpolated",
			wantDir:   models.DirectionDoubleUp,
		},
		{
			name:      "explicit current reading",
			entries:   []models.GlucoseEntry{entryAt(100, 5*time.Minute)},
			current:   &models.GlucoseEntry{SGV: 103, Date: base.Add(10 * time.Minute).UnixMilli()},
			wantValue: 103,
			wantDelta: 3,
			wantMeth:  "nearest",
			wantDir:   models.DirectionFlat,
		},
		{
			name:      "no readings in window",
			entries:   []models.GlucoseEntry{entryAt(140, 10*time.Minute)},
			wantValue: 140,
			wantDelta: 0,
			wantMeth:  "none",
			wantDir:   models.DirectionNotComputable,
		},
	}

	a := newTestApp(t, models.DefaultSettings())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, err := a.StatusFromEntries(tt.entries, tt.current)
			if err != nil {
				t.Fatalf("StatusFromEntries() error = %v", err)
			}
			if status.Value != tt.wantValue {
				t.Errorf("Value = %d, want %d", status.Value, tt.wantValue)
			}
			if math.Abs(status.Delta-tt.wantDelta) > 1e-9 {
				t.Errorf("Delta = %v, want %v", status.Delta, tt.wantDelta)
			}
			if status.Method != tt.wantMeth {
				t.Errorf("Method = %s, want %s", status.Method, tt.wantMeth)
			}
			if status.Direction != tt.wantDir {
				t.Errorf("Direction = %s, want %s", status.Direction, tt.wantDir)
			}
			if status.Arrow != models.ArrowForDirection(tt.wantDir) {
				t.Errorf("Arrow = %s, want %s", status.Arrow, models.ArrowForDirection(tt.wantDir))
			}
		})
	}
}

func TestStatusFromEntries_Empty(t *testing.T) {
	a := newTestApp(t, models.DefaultSettings())
	if _, err := a.StatusFromEntries(nil, nil); !errors.Is(err, ErrNoCurrentReading) {
		t.Errorf("error = %v, want ErrNoCurrentReading", err)
	}
}

func TestStatusFromEntries_ZeroElapsed(t *testing.T) {
	settings := models.DefaultSettings()
	settings.Delta.Intervals = models.IntervalsTruncated
	a := newTestApp(t, settings)

	status, err := a.StatusFromEntries([]models.GlucoseEntry{entryAt(100, 6*time.Minute), entryAt(120, 10*time.Minute)}, nil)
	if err != nil {
		t.Fatalf("StatusFromEntries() error = %v", err)
	}
	if status.Delta != 0 || status.Method != delta.MethodZeroElapsed.String() {
		t.Errorf("got delta %v method %s, want 0 zero_elapsed", status.Delta, status.Method)
	}
	if status.Direction != models.DirectionNotComputable {
		t.Errorf("Direction = %s, want %s", status.Direction, models.DirectionNotComputable)
	}
}

func TestStatusFromEntries_GlucoseStatus(t *testing.T) {
	a := newTestApp(t, models.DefaultSettings())

	tests := []struct {
		sgv  int
		want string
	}{
		{50, "urgent_low"},
		{65, "low"},
		{120, "normal"},
		{200, "high"},
		{300, "urgent_high"},
	}

	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.sgv), func(t *testing.T) {
			status, err := a.StatusFromEntries([]models.GlucoseEntry{entryAt(tt.sgv, 0)}, nil)
			if err != nil {
				t.Fatalf("StatusFromEntries() error = %v", err)
			}
			if status.Status != tt.want {
				t.Errorf("Status = %s, want %s", status.Status, tt.want)
			}
		})
	}
}

func TestFetchStatus(t *testing.T) {
	now := base.Add(10 * time.Minute)
	target := now.Add(-5 * time.Minute)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		switch r.URL.Path {
		case "/api/v1/entries/current":
			_ = json.NewEncoder(w).Encode(models.GlucoseEntry{SGV: 75, Date: now.UnixMilli()})
		case "/api/v1/entries/sgv":
			gte, _ := strconv.ParseInt(r.URL.Query().Get("find[date][$gte]"), 10, 64)
			lte, _ := strconv.ParseInt(r.URL.Query().Get("find[date][$lte]"), 10, 64)
			if gte != target.Add(-150*time.Second).UnixMilli() || lte != target.Add(150*time.Second).UnixMilli() {
				t.Errorf("window = [%d, %d], want around %d", gte, lte, target.UnixMilli())
			}
			_ = json.NewEncoder(w).Encode([]models.GlucoseEntry{
				entryAt(81, 7*time.Minute),
				entryAt(96, 4*time.Minute),
			})
		default:
			t.Errorf("Unexpected path: %s", r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	settings := models.DefaultSettings()
	settings.Nightscout.URL = server.URL
	a := newTestApp(t, settings)

	status, err := a.FetchStatus(context.Background())
	if err != nil {
		t.Fatalf("FetchStatus() error = %v", err)
	}

	// Expected value is 96*2/3 + 81/3 = 91
	if math.Abs(status.Delta-(-16)) > 1e-9 {
		t.Errorf("Delta = %v, want -16", status.Delta)
	}
	if math.Abs(status.Expected-91) > 1e-9 {
		t.Errorf("Expected = %v, want 91", status.Expected)
	}
	if status.Candidates != 2 {
		t.Errorf("Candidates = %d, want 2", status.Candidates)
	}
	if status.Direction != models.DirectionSingleDown {
		t.Errorf("Direction = %s, want %s", status.Direction, models.DirectionSingleDown)
	}
}

func TestFetchStatus_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	settings := models.DefaultSettings()
	settings.Nightscout.URL = server.URL
	a := newTestApp(t, settings)

	if _, err := a.FetchStatus(context.Background()); err == nil {
		t.Error("Expected error for 500 response")
	}
}

func TestCheckConnection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(models.ServerStatus{Status: "ok", Name: "ns"})
	}))
	defer server.Close()

	settings := models.DefaultSettings()
	settings.Nightscout.URL = server.URL
	a := newTestApp(t, settings)

	status, err := a.CheckConnection(context.Background())
	if err != nil {
		t.Fatalf("CheckConnection() error = %v", err)
	}
	if status.Name != "ns" {
		t.Errorf("Name = %s, want ns", status.Name)
	}
}

func TestWriteBadge(t *testing.T) {
	settings := models.DefaultSettings()
	a := newTestApp(t, settings)

	status, err := a.StatusFromEntries([]models.GlucoseEntry{entryAt(105, 4*time.Minute), entryAt(95, 6*time.Minute), entryAt(120, 10*time.Minute)}, nil)
	if err != nil {
		t.Fatalf("StatusFromEntries() error = %v", err)
	}

	// No path configured
	if err := a.WriteBadge(status); err != nil {
		t.Errorf("WriteBadge() without path error = %v", err)
	}

	settings.Badge.Path = filepath.Join(t.TempDir(), "badge.png")
	if err := a.WriteBadge(status); err != nil {
		t.Fatalf("WriteBadge() error = %v", err)
	}

	f, err := os.Open(settings.Badge.Path)
	if err != nil {
		t.Fatalf("badge not written: %v", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := png.Decode(f); err != nil {
		t.Errorf("badge is not a valid PNG: %v", err)
	}
}

func TestApp_LogsComputation(t *testing.T) {
	core, logs := zapobserver.New(zapcore.DebugLevel)
	a, err := New(models.DefaultSettings(), zap.New(core).Sugar())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := a.StatusFromEntries([]models.GlucoseEntry{entryAt(100, 5*time.Minute), entryAt(110, 10*time.Minute)}, nil); err != nil {
		t.Fatalf("StatusFromEntries() error = %v", err)
	}

	if n := logs.FilterMessage("delta computed").Len(); n != 1 {
		t.Errorf("delta computed entries = %d, want 1", n)
	}
	if n := logs.FilterMessage("single-sided delta").Len(); n != 1 {
		t.Errorf("estimator trace entries = %d, want 1", n)
	}
}

func TestWatch_NotConfigured(t *testing.T) {
	a := newTestApp(t, models.DefaultSettings())
	if err := a.Watch(context.Background(), func(*models.DeltaStatus) {}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("Watch() error = %v, want ErrNotConfigured", err)
	}
}

func TestWatch_PollsUntilCanceled(t *testing.T) {
	now := time.Now()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v1/entries/current" {
			_ = json.NewEncoder(w).Encode(models.GlucoseEntry{SGV: 110, Date: now.UnixMilli()})
			return
		}
		_ = json.NewEncoder(w).Encode([]models.GlucoseEntry{
			{SGV: 100, Date: now.Add(-5 * time.Minute).UnixMilli()},
		})
	}))
	defer server.Close()

	settings := models.DefaultSettings()
	settings.Nightscout.URL = server.URL
	settings.Nightscout.Refresh = 10 * time.Millisecond
	a := newTestApp(t, settings)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var deltas []float64
	err := a.Watch(ctx, func(status *models.DeltaStatus) {
		deltas = append(deltas, status.Delta)
		if len(deltas) == 3 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if len(deltas) < 3 {
		t.Fatalf("got %d refreshes, want at least 3", len(deltas))
	}
	for _, d := range deltas {
		if math.Abs(d-10) > 1e-9 {
			t.Errorf("delta = %v, want 10", d)
		}
	}
}

func TestWatch_LogsFetchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	core, logs := zapobserver.New(zapcore.DebugLevel)
	settings := models.DefaultSettings()
	settings.Nightscout.URL = server.URL
	settings.Nightscout.Refresh = 10 * time.Millisecond
	a, err := New(settings, zap.New(core).Sugar())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	handled := 0
	if err := a.Watch(ctx, func(*models.DeltaStatus) { handled++ }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}
	if handled != 0 {
		t.Errorf("handle called %d times, want 0", handled)
	}
	if logs.FilterMessage("refreshing glucose failed").Len() == 0 {
		t.Error("expected fetch failures to be logged")
	}
}
