package obscheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/owlby/owlby-backend/internal/tools/common"
	"github.com/owlby/owlby-backend/internal/tools/loadgen"
	"github.com/owlby/owlby-backend/internal/tools/ui"
)

type options struct {
	grafanaURL      string
	grafanaUser     string
	grafanaPassword string
	serviceName     string
	window          time.Duration
	ci              bool
	baseURL         string
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "obscheck", Short: "Verify metrics, traces and logs correlation"}
	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.grafanaURL, "grafana-url", "http://localhost:3000", "Grafana base URL")
	flags.StringVar(&opts.grafanaUser, "grafana-user", "admin", "Grafana username")
	flags.StringVar(&opts.grafanaPassword, "grafana-password", "admin", "Grafana password")
	flags.StringVar(&opts.serviceName, "service-name", "owlby-backend", "OTel service name")
	flags.DurationVar(&opts.window, "window", 20*time.Minute, "query lookback window")
	flags.BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	flags.StringVar(&opts.baseURL, "base-url", "http://localhost:3001", "API base URL for traffic")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Generate traffic and validate exemplar->trace->log path",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runChecks(opts, "obscheck run", verifyPipeline(opts))
			if opts.ci {
				common.PrintCIResult(err == nil, "obscheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

// verifyPipeline drives some traffic through the API and then walks the
// observability chain: a metric exemplar yields a trace id, Tempo must
// know that trace, and Loki must hold a log line carrying the same id.
func verifyPipeline(opts *options) func(context.Context) ([]string, error) {
	return func(ctx context.Context) ([]string, error) {
		res, err := loadgen.Run(ctx, loadgen.Config{
			BaseURL:     opts.baseURL,
			Profile:     "mixed",
			Duration:    6 * time.Second,
			RPS:         20,
			Concurrency: 6,
			Seed:        42,
		})
		if err != nil {
			return nil, err
		}
		var details []string
		details = append(details, fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures))

		cutoff := time.Now().Add(-2 * time.Minute)
		// Give the collector a moment to flush before querying.
		time.Sleep(8 * time.Second)

		gc := grafanaClient{opts: *opts, http: &http.Client{Timeout: 20 * time.Second}}

		traceID, err := gc.latestExemplarTraceID(ctx, cutoff)
		if err != nil {
			return details, err
		}
		details = append(details, "exemplar trace_id="+traceID)

		if err := gc.waitForTempoTrace(ctx, traceID); err != nil {
			return details, err
		}
		details = append(details, "tempo trace lookup: ok")

		if err := gc.findCorrelatedLogs(ctx, traceID); err != nil {
			return details, err
		}
		details = append(details, "loki trace correlation: ok")
		return details, nil
	}
}

func runChecks(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

type grafanaClient struct {
	opts options
	http *http.Client
}

func (g grafanaClient) get(ctx context.Context, path string, out any) error {
	base, err := url.Parse(g.opts.grafanaURL)
	if err != nil {
		return err
	}
	rel, err := url.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.ResolveReference(rel).String(), nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(g.opts.grafanaUser, g.opts.grafanaPassword)
	resp, err := g.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("grafana request failed: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// latestExemplarTraceID queries Mimir through the Grafana datasource proxy
// for request-duration exemplars and returns the newest trace id stamped
// after notBefore.
func (g grafanaClient) latestExemplarTraceID(ctx context.Context, notBefore time.Time) (string, error) {
	start := time.Now().Add(-g.opts.window).Unix()
	end := time.Now().Unix()
	path := fmt.Sprintf("/api/datasources/proxy/uid/mimir/api/v1/query_exemplars?query=http_server_request_duration_seconds_bucket&start=%d&end=%d", start, end)

	var payload map[string]any
	if err := g.get(ctx, path, &payload); err != nil {
		return "", err
	}

	newest, newestTS := "", float64(0)
	series, _ := payload["data"].([]any)
	for _, s := range series {
		sm, _ := s.(map[string]any)
		exemplars, _ := sm["exemplars"].([]any)
		for _, e := range exemplars {
			em, _ := e.(map[string]any)
			ts, _ := em["timestamp"].(float64)
			if ts <= 0 || int64(ts) < notBefore.Unix() {
				continue
			}
			labels, _ := em["labels"].(map[string]any)
			tid, _ := labels["trace_id"].(string)
			if len(tid) == 32 && ts > newestTS {
				newest, newestTS = tid, ts
			}
		}
	}
	if newest == "" {
		return "", fmt.Errorf("no recent trace_id exemplar found")
	}
	return newest, nil
}

// waitForTempoTrace polls Tempo for the trace; spans can lag the exemplar
// by a few seconds so it retries before giving up.
func (g grafanaClient) waitForTempoTrace(ctx context.Context, traceID string) error {
	path := "/api/datasources/proxy/uid/tempo/api/traces/" + traceID
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			time.Sleep(2 * time.Second)
		}
		var payload map[string]any
		if err := g.get(ctx, path, &payload); err != nil {
			lastErr = err
			continue
		}
		if batches, _ := payload["batches"].([]any); len(batches) > 0 {
			return nil
		}
		lastErr = fmt.Errorf("tempo trace has no batches yet")
	}
	return lastErr
}

func (g grafanaClient) findCorrelatedLogs(ctx context.Context, traceID string) error {
	end := time.Now().UnixNano()
	start := end - int64(30*time.Minute)
	queries := []string{
		fmt.Sprintf("{service_name=%q} | json | trace_id=%q", g.opts.serviceName, traceID),
		fmt.Sprintf("{service_name=~\".+\"} | json | trace_id=%q", traceID),
	}
	for _, q := range queries {
		path := fmt.Sprintf("/api/datasources/proxy/uid/loki/loki/api/v1/query_range?query=%s&start=%d&end=%d&limit=1&direction=backward", url.QueryEscape(q), start, end)
		var payload map[string]any
		if err := g.get(ctx, path, &payload); err != nil {
			return err
		}
		data, _ := payload["data"].(map[string]any)
		if result, _ := data["result"].([]any); len(result) > 0 {
			return nil
		}
	}
	return fmt.Errorf("no correlated loki logs found for trace_id %s", traceID)
}
