package authcheck

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/owlby/owlby-backend/internal/tools/common"
	"github.com/owlby/owlby-backend/internal/tools/ui"
)

type options struct {
	baseURL string
	ci      bool
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "authcheck", Short: "Smoke-test the auth gateway end to end"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:3001", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Register, sign in, and exercise the protected surface",
		RunE: func(*cobra.Command, []string) error {
			exec := func(ctx context.Context) ([]string, error) { return runScenario(ctx, opts.baseURL) }
			var details []string
			var err error
			if opts.ci {
				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()
				details, err = exec(ctx)
				common.PrintCIResult(err == nil, "authcheck run", details, err)
			} else {
				details, err = ui.Run("authcheck run", exec)
				_ = details
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type sessionData struct {
	User struct {
		ID    string `json:"id"`
		Email string `json:"email"`
	} `json:"user"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func runScenario(ctx context.Context, baseURL string) ([]string, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	email := fmt.Sprintf("authcheck-%d@example.com", time.Now().UnixNano())
	var details []string

	// Register.
	var reg sessionData
	status, err := call(ctx, client, baseURL, http.MethodPost, "/api/auth/register", "",
		map[string]any{"email": email, "password": "smoke-test-pass", "name": "Authcheck"}, &reg)
	if err != nil {
		return details, err
	}
	if status != http.StatusCreated {
		return details, fmt.Errorf("register: expected 201, got %d", status)
	}
	details = append(details, "register: ok user_id="+reg.User.ID)

	// Login resolves the same user.
	var login sessionData
	status, err = call(ctx, client, baseURL, http.MethodPost, "/api/auth/login", "",
		map[string]any{"email": email, "password": "smoke-test-pass"}, &login)
	if err != nil {
		return details, err
	}
	if status != http.StatusOK || login.User.ID != reg.User.ID {
		return details, fmt.Errorf("login: expected 200 with same user, got %d user=%s", status, login.User.ID)
	}
	details = append(details, "login: ok")

	// Wrong password is a generic 401.
	status, err = call(ctx, client, baseURL, http.MethodPost, "/api/auth/login", "",
		map[string]any{"email": email, "password": "wrong"}, nil)
	if err != nil {
		return details, err
	}
	if status != http.StatusUnauthorized {
		return details, fmt.Errorf("wrong password: expected 401, got %d", status)
	}
	details = append(details, "wrong password rejected: ok")

	// Protected endpoint without and with the bearer.
	status, err = call(ctx, client, baseURL, http.MethodGet, "/api/auth/me", "", nil, nil)
	if err != nil {
		return details, err
	}
	if status != http.StatusUnauthorized {
		return details, fmt.Errorf("me without bearer: expected 401, got %d", status)
	}
	var me struct {
		User struct {
			ID string `json:"id"`
		} `json:"user"`
	}
	status, err = call(ctx, client, baseURL, http.MethodGet, "/api/auth/me", login.AccessToken, nil, &me)
	if err != nil {
		return details, err
	}
	if status != http.StatusOK || me.User.ID != reg.User.ID {
		return details, fmt.Errorf("me with bearer: expected 200 with same user, got %d", status)
	}
	details = append(details, "protected surface: ok")

	// Refresh rotation.
	var refreshed sessionData
	status, err = call(ctx, client, baseURL, http.MethodPost, "/api/auth/refresh", "",
		map[string]any{"refresh_token": login.RefreshToken}, &refreshed)
	if err != nil {
		return details, err
	}
	if status != http.StatusOK || refreshed.RefreshToken == login.RefreshToken {
		return details, fmt.Errorf("refresh: expected rotation, got %d", status)
	}
	status, err = call(ctx, client, baseURL, http.MethodPost, "/api/auth/refresh", "",
		map[string]any{"refresh_token": login.RefreshToken}, nil)
	if err != nil {
		return details, err
	}
	if status != http.StatusUnauthorized {
		return details, fmt.Errorf("refresh reuse: expected 401, got %d", status)
	}
	details = append(details, "refresh rotation: ok")

	return details, nil
}

func call(ctx context.Context, client *http.Client, baseURL, method, path, bearer string, body map[string]any, out any) (int, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, baseURL+path, &buf)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	var env apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return resp.StatusCode, nil
	}
	if out != nil && env.Data != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
