package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int
	Failures      int
	StatusClasses map[string]int
}

type request struct {
	method string
	path   string
	body   map[string]any
}

// Run drives synthetic traffic against a gateway so dashboards and
// alert rules have data to show. The auth profile exercises the
// login/refresh error paths on purpose; mixed adds health and
// protected-endpoint probes.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	profile := normalizeProfile(cfg.Profile)
	if cfg.RPS <= 0 {
		cfg.RPS = 10
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Duration <= 0 {
		cfg.Duration = 10 * time.Second
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	var mu sync.Mutex
	result := &Result{StatusClasses: map[string]int{}}
	client := &http.Client{Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	jobs := make(chan request)
	var wg sync.WaitGroup
	for i := 0; i < cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for req := range jobs {
				status, err := fire(ctx, client, cfg.BaseURL, req)
				mu.Lock()
				result.TotalRequests++
				if err != nil {
					result.Failures++
				} else {
					result.StatusClasses[classifyStatusClass(status)]++
				}
				mu.Unlock()
			}
		}()
	}

	interval := time.Second / time.Duration(cfg.RPS)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

feed:
	for {
		select {
		case <-ctx.Done():
			break feed
		case <-ticker.C:
			mu.Lock()
			seq := result.TotalRequests
			mu.Unlock()
			select {
			case jobs <- pickRequest(profile, rng, seq):
			case <-ctx.Done():
				break feed
			}
		}
	}
	close(jobs)
	wg.Wait()
	return result, nil
}

func pickRequest(profile string, rng *rand.Rand, seq int) request {
	email := fmt.Sprintf("loadgen-%d-%d@example.com", rng.Int63(), seq)
	auth := []request{
		{http.MethodPost, "/api/auth/register", map[string]any{"email": email, "password": "loadgen-pass", "name": "Loadgen"}},
		{http.MethodPost, "/api/auth/login", map[string]any{"email": email, "password": "wrong-password"}},
		{http.MethodPost, "/api/auth/refresh", map[string]any{"refresh_token": "not-a-token"}},
		{http.MethodPost, "/api/auth/reset-password/request", map[string]any{"email": email}},
	}
	mixed := append([]request{
		{http.MethodGet, "/api/health", nil},
		{http.MethodGet, "/api/auth/me", nil},
		{http.MethodGet, "/api/learning-nodes/", nil},
	}, auth...)

	pool := mixed
	if profile == "auth" {
		pool = auth
	}
	return pool[rng.Intn(len(pool))]
}

func fire(ctx context.Context, client *http.Client, baseURL string, r request) (int, error) {
	var body *bytes.Reader
	if r.body != nil {
		raw, err := json.Marshal(r.body)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, strings.TrimSuffix(baseURL, "/")+r.path, body)
	if err != nil {
		return 0, err
	}
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	_ = resp.Body.Close()
	return resp.StatusCode, nil
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

func normalizeProfile(profile string) string {
	p := strings.ToLower(strings.TrimSpace(profile))
	switch p {
	case "auth", "mixed":
		return p
	default:
		return "mixed"
	}
}
