package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"shaper/internal/identity"
	"shaper/internal/logger"
	"shaper/internal/models"
	"shaper/internal/observability"
	"shaper/internal/shaper"
	"shaper/internal/tracker"
	"shaper/internal/version"
)

type probeOptions struct {
	root *rootOptions

	count       int
	concurrency int
	token       string
	method      string
	waitMode    string
	autoRetry   bool
	maxDelay    time.Duration
	claim       string
	timeout     time.Duration

	serveMetrics bool
}

// telemetry carries the providers a probe run reports to. Nil fields fall
// back to the global providers.
type telemetry struct {
	meters  metric.MeterProvider
	tracers trace.TracerProvider
}

const telemetryShutdownTimeout = 5 * time.Second

func shutdownTelemetry(p *observability.Provider, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := p.Shutdown(ctx); err != nil {
		log.Warn("Telemetry shutdown failed", "error", err)
	}
}

func shutdownMetrics(ms *observability.MetricsServer, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := ms.Shutdown(ctx); err != nil {
		log.Warn("Metrics server shutdown failed", "error", err)
	}
}

func newProbeCommand(root *rootOptions) *cobra.Command {
	opts := &probeOptions{root: root}

	cmd := &cobra.Command{
		Use:   "probe URL",
		Short: "Send requests through the shaping transport",
		Long: `probe sends --count requests to URL with --concurrency workers. Every
response passes through the shaping transport, so later requests are delayed
according to the quota the upstream advertises. Each request is printed as it
completes, followed by the tracked state.`,
		Example: `  shaper probe http://localhost:8080/api/v1/resource --count 20
  shaper probe http://localhost:8080/api/v1/resource --token "$TOKEN" --auto-retry`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, closer, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			if closer != nil {
				defer closer.Close()
			}
			opts.apply(cmd, &cfg.Shaper)

			provider, err := observability.Setup(cfg.Metrics, cfg.Observability, version.GetInfo())
			if err != nil {
				return fmt.Errorf("failed to set up observability: %w", err)
			}
			defer shutdownTelemetry(provider, log)

			if opts.serveMetrics && cfg.Metrics.Enabled {
				ms := observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, provider)
				go func() {
					if err := ms.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						log.Error("Metrics server failed", "error", err)
					}
				}()
				defer shutdownMetrics(ms, log)
			}

			log.Debug("probe starting", "url", args[0], "count", opts.count, "concurrency", opts.concurrency)
			tel := telemetry{meters: provider.MeterProvider(), tracers: provider.TracerProvider()}
			return runProbe(cmd.Context(), cmd.OutOrStdout(), args[0], opts, cfg.Shaper, tel, logger.Component(log, "probe"))
		},
	}

	f := cmd.Flags()
	f.IntVarP(&opts.count, "count", "n", 10, "number of requests")
	f.IntVarP(&opts.concurrency, "concurrency", "p", 1, "concurrent workers")
	f.StringVar(&opts.token, "token", "", "bearer token sent with every request")
	f.StringVarP(&opts.method, "method", "X", http.MethodGet, "HTTP method")
	f.StringVar(&opts.waitMode, "wait-mode", "", "before, after or never (overrides config)")
	f.BoolVar(&opts.autoRetry, "auto-retry", false, "retry 429 responses (overrides config)")
	f.DurationVar(&opts.maxDelay, "max-delay", 0, "longest delay honored (overrides config)")
	f.StringVar(&opts.claim, "claim", "", "JWT claim used as partition key (overrides config)")
	f.DurationVar(&opts.timeout, "timeout", 0, "per-request timeout (overrides config)")
	f.BoolVar(&opts.serveMetrics, "serve-metrics", false, "serve Prometheus metrics while the probe runs")
	return cmd
}

// apply copies explicitly set flags over the loaded configuration.
func (o *probeOptions) apply(cmd *cobra.Command, sc *models.ShaperConfig) {
	f := cmd.Flags()
	if f.Changed("wait-mode") {
		sc.WaitMode = o.waitMode
	}
	if f.Changed("auto-retry") {
		sc.AutoRetry = o.autoRetry
	}
	if f.Changed("max-delay") {
		sc.MaxDelay = o.maxDelay
	}
	if f.Changed("claim") {
		sc.PartitionClaim = o.claim
	}
	if f.Changed("timeout") {
		sc.RequestTimeout = o.timeout
	}
}

type probeResult struct {
	Index   int
	Status  int
	Elapsed time.Duration
	Err     error
}

type probeSummary struct {
	OK        int
	Throttled int
	Failed    int
	Delayed   time.Duration
}

func runProbe(ctx context.Context, out io.Writer, rawURL string, opts *probeOptions, sc models.ShaperConfig, tel telemetry, log *slog.Logger) error {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("invalid URL %q", rawURL)
	}
	if opts.count < 1 {
		return errors.New("--count must be at least 1")
	}
	if opts.concurrency < 1 {
		return errors.New("--concurrency must be at least 1")
	}

	client, tr, summary, err := newProbeClient(sc, tel, log)
	if err != nil {
		return err
	}

	var (
		mu      sync.Mutex
		results = make([]probeResult, 0, opts.count)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	for i := range opts.count {
		g.Go(func() error {
			res := probeOnce(gctx, client, opts, rawURL, i+1)
			log.Debug("request finished", "index", res.Index, "status", res.Status, "elapsed", res.Elapsed)

			mu.Lock()
			defer mu.Unlock()
			results = append(results, res)
			fmt.Fprintln(out, formatResult(res))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	s := summary.snapshot()
	for _, r := range results {
		switch {
		case r.Err != nil:
			s.Failed++
		case r.Status >= 200 && r.Status < 300:
			s.OK++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprint(out, renderStates(tr.Snapshot(), tr.Now()))
	fmt.Fprintf(out, "ok=%d throttled=%d failed=%d delayed=%s\n",
		s.OK, s.Throttled, s.Failed, s.Delayed.Round(time.Millisecond))
	return nil
}

// probeCounters is fed from transport callbacks.
type probeCounters struct {
	throttled atomic.Int64
	delayed   atomic.Int64
}

func (c *probeCounters) snapshot() probeSummary {
	return probeSummary{
		Throttled: int(c.throttled.Load()),
		Delayed:   time.Duration(c.delayed.Load()),
	}
}

func newProbeClient(sc models.ShaperConfig, tel telemetry, log *slog.Logger) (*http.Client, *tracker.Tracker, *probeCounters, error) {
	tcfg := tracker.ConfigFromModel(sc)
	tcfg.Logger = log
	t, err := tracker.New(tcfg)
	if err != nil {
		return nil, nil, nil, err
	}

	scfg, err := shaper.ConfigFromModel(sc)
	if err != nil {
		return nil, nil, nil, err
	}

	counters := &probeCounters{}
	cb := shaper.Callbacks{
		OnDelayCalculated: func(_ *url.URL, d time.Duration) {
			counters.delayed.Add(int64(d))
		},
		OnTooManyRequests: func(*http.Request, *http.Response) {
			counters.throttled.Add(1)
		},
	}

	inst, err := observability.NewShaperInstruments(tel.meters)
	if err != nil {
		return nil, nil, nil, err
	}

	tracers := tel.tracers
	if tracers == nil {
		tracers = otel.GetTracerProvider()
	}

	opts := []shaper.Option{
		shaper.WithCallbacks(shaper.ChainCallbacks(cb, inst.Callbacks())),
		shaper.WithTracer(tracers.Tracer("shaper/cli")),
		shaper.WithLogger(log),
	}
	if sc.PartitionClaim != "" {
		opts = append(opts, shaper.WithPartitionFunc(identity.PartitionFromBearer(sc.PartitionClaim)))
	}

	client, err := shaper.Client(http.DefaultTransport, t, scfg, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	client.Timeout = sc.RequestTimeout
	return client, t, counters, nil
}

func probeOnce(ctx context.Context, client *http.Client, opts *probeOptions, rawURL string, index int) probeResult {
	start := time.Now()
	res := probeResult{Index: index}

	var body io.Reader
	if opts.method == http.MethodPost || opts.method == http.MethodPut {
		body = strings.NewReader(fmt.Sprintf(`{"probe":%d}`, index))
	}
	req, err := http.NewRequestWithContext(ctx, opts.method, rawURL, body)
	if err != nil {
		res.Err = err
		return res
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent())
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(req)
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Err = err
		return res
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	res.Status = resp.StatusCode
	return res
}

func formatResult(r probeResult) string {
	if r.Err != nil {
		return fmt.Sprintf("#%-4d error    %8s  %v", r.Index, r.Elapsed.Round(time.Millisecond), r.Err)
	}
	return fmt.Sprintf("#%-4d %-8d %8s", r.Index, r.Status, r.Elapsed.Round(time.Millisecond))
}
