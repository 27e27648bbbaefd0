package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"shaper/internal/models"
	"shaper/internal/ratelimit"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testShaperConfig(mode string) models.ShaperConfig {
	sc := models.NewDefaultConfig().Shaper
	sc.WaitMode = mode
	return sc
}

func newUpstream(t *testing.T, quota int) *httptest.Server {
	t.Helper()
	limiter := ratelimit.NewMemoryLimiter("burst", quota, time.Hour, time.Minute)
	t.Cleanup(limiter.Close)

	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(ratelimit.Middleware(limiter)(ok))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunProbe_CountsThrottledResponses(t *testing.T) {
	srv := newUpstream(t, 3)
	var out bytes.Buffer

	opts := &probeOptions{count: 5, concurrency: 1, method: http.MethodGet}
	err := runProbe(context.Background(), &out, srv.URL, opts, testShaperConfig(models.WaitModeNever), telemetry{}, quietLogger())
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, "ok=3 throttled=2 failed=0")
	assert.Contains(t, got, "Tracked state")
	assert.Contains(t, got, "burst")
	assert.Equal(t, 2, strings.Count(got, " 429 "))
}

func TestRunProbe_RecordsTransportMetrics(t *testing.T) {
	srv := newUpstream(t, 2)
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	opts := &probeOptions{count: 3, concurrency: 1, method: http.MethodGet}
	err := runProbe(context.Background(), io.Discard, srv.URL, opts,
		testShaperConfig(models.WaitModeNever), telemetry{meters: mp}, quietLogger())
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), sums["shaper.headers.received"])
	assert.Equal(t, int64(1), sums["shaper.throttled.responses"])
}

func TestRootOptions_LoadLogging(t *testing.T) {
	t.Setenv("SHAPER_LOG_LEVEL", "warn")
	t.Setenv("SHAPER_LOG_FORMAT", "json")

	var buf bytes.Buffer
	_, log, closer, err := (&rootOptions{}).load(&buf)
	require.NoError(t, err)
	assert.Nil(t, closer)
	log.Info("hidden")
	log.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	_, log, _, err = (&rootOptions{verbose: true}).load(&buf)
	require.NoError(t, err)
	log.Debug("detail")
	assert.Contains(t, buf.String(), `"msg":"detail"`, "verbose raises the level, format still comes from config")
}

func TestRunProbe_Concurrent(t *testing.T) {
	srv := newUpstream(t, 100)
	var out bytes.Buffer

	opts := &probeOptions{count: 12, concurrency: 4, method: http.MethodPost}
	err := runProbe(context.Background(), &out, srv.URL, opts, testShaperConfig(models.WaitModeBefore), telemetry{}, quietLogger())
	require.NoError(t, err)

	assert.Contains(t, out.String(), "ok=12 throttled=0 failed=0")
	for i := 1; i <= 12; i++ {
		assert.Contains(t, out.String(), "#"+strconv.Itoa(i)+" ")
	}
}

func TestRunProbe_UnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	var out bytes.Buffer
	opts := &probeOptions{count: 2, concurrency: 2, method: http.MethodGet}
	err := runProbe(context.Background(), &out, url, opts, testShaperConfig(models.WaitModeBefore), telemetry{}, quietLogger())
	require.NoError(t, err)
	assert.Contains(t, out.String(), "failed=2")
}

func TestRunProbe_Validation(t *testing.T) {
	sc := testShaperConfig(models.WaitModeBefore)
	tests := []struct {
		name string
		url  string
		opts probeOptions
	}{
		{"relative url", "/api", probeOptions{count: 1, concurrency: 1}},
		{"zero count", "http://localhost", probeOptions{count: 0, concurrency: 1}},
		{"zero concurrency", "http://localhost", probeOptions{count: 1, concurrency: 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runProbe(context.Background(), io.Discard, tt.url, &tt.opts, sc, telemetry{}, quietLogger())
			assert.Error(t, err)
		})
	}
}

func TestRunProbe_InvalidWaitMode(t *testing.T) {
	opts := &probeOptions{count: 1, concurrency: 1, method: http.MethodGet}
	err := runProbe(context.Background(), io.Discard, "http://localhost", opts, testShaperConfig("sometimes"), telemetry{}, quietLogger())
	assert.Error(t, err)
}

func TestRunInspect_Table(t *testing.T) {
	var out bytes.Buffer
	opts := &inspectOptions{
		policies:   []string{`"default";q=100;w=60;pk=:YWJj:`},
		limits:     []string{`"default";r=5;t=30`},
		retryAfter: "120",
		output:     "table",
	}

	require.NoError(t, runInspect(&out, opts, time.Now()))

	got := out.String()
	assert.Contains(t, got, "RateLimit-Policy")
	assert.Contains(t, got, "abc")
	assert.Contains(t, got, "1m0s")
	assert.Contains(t, got, "30s")
	assert.Contains(t, got, "Retry-After: 2m0s")
	assert.NotContains(t, got, "dropped")
}

func TestRunInspect_JSONReportsDroppedItems(t *testing.T) {
	var out bytes.Buffer
	opts := &inspectOptions{
		policies: []string{`"ok";q=10, "bad";w=5`},
		output:   "json",
	}

	require.NoError(t, runInspect(&out, opts, time.Now()))

	var result inspectResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Len(t, result.Snapshot.Policies, 1)
	assert.Equal(t, "ok", result.Snapshot.Policies[0].Name)
	assert.NotEmpty(t, result.Errors)
}

func TestRunInspect_UnknownFormat(t *testing.T) {
	opts := &inspectOptions{retryAfter: "1", output: "xml"}
	assert.Error(t, runInspect(io.Discard, opts, time.Now()))
}

func TestRootCommand_InspectRequiresInput(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"inspect"})
	assert.Error(t, cmd.Execute())
}

func TestRootCommand_Version(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "shaper version")
	assert.Contains(t, out.String(), "Go Version:")
}

func TestRootCommand_ProbeFlagsOverrideConfig(t *testing.T) {
	srv := newUpstream(t, 2)
	var out bytes.Buffer

	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"probe", srv.URL, "--count", "3", "--wait-mode", "never", "--timeout", "5s"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "ok=2 throttled=1 failed=0")
}

func TestRenderStates_Empty(t *testing.T) {
	assert.Contains(t, renderStates(nil, time.Now()), "(none)")
}

func TestRenderSnapshot_Empty(t *testing.T) {
	assert.Equal(t, "no rate limit information\n", renderSnapshot(models.HeaderSnapshot{}))
}
