package integration

import (
	"net/http"
	"testing"
)

func TestRegisterReplaysUnderSameIdempotencyKey(t *testing.T) {
	stack := newAuthTestServer(t)
	headers := map[string]string{"Idempotency-Key": "reg-key-1"}
	body := `{"email":"idem@example.com","password":"pw123","name":"Idem"}`

	status, env, raw := doJSON(t, stack, http.MethodPost, "/api/auth/register", headers, body)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, raw)
	}
	firstID, _ := dataField(t, env, "user", "id").(string)

	// Same key, same payload: the cached 201 comes back, no duplicate row.
	status, env, raw = doJSON(t, stack, http.MethodPost, "/api/auth/register", headers, body)
	if status != http.StatusCreated {
		t.Fatalf("replay expected cached 201, got %d %s", status, raw)
	}
	if replayID, _ := dataField(t, env, "user", "id").(string); replayID != firstID {
		t.Errorf("replay returned a different user: %s vs %s", firstID, replayID)
	}
}

func TestRegisterConflictsOnReusedKeyWithNewPayload(t *testing.T) {
	stack := newAuthTestServer(t)
	headers := map[string]string{"Idempotency-Key": "reg-key-2"}

	status, _, raw := doJSON(t, stack, http.MethodPost, "/api/auth/register", headers,
		`{"email":"one@example.com","password":"pw123"}`)
	if status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, raw)
	}

	status, env, _ := doJSON(t, stack, http.MethodPost, "/api/auth/register", headers,
		`{"email":"two@example.com","password":"pw123"}`)
	if status != http.StatusConflict {
		t.Fatalf("expected 409 for reused key with different payload, got %d", status)
	}
	if env.Error == nil || env.Error.Code != "IDEMPOTENCY_CONFLICT" {
		t.Errorf("unexpected error %+v", env.Error)
	}
}

func TestRegisterWithoutKeyIsNotDeduplicated(t *testing.T) {
	stack := newAuthTestServer(t)
	body := `{"email":"nokey@example.com","password":"pw123"}`

	if status, _, raw := doJSON(t, stack, http.MethodPost, "/api/auth/register", nil, body); status != http.StatusCreated {
		t.Fatalf("register: %d %s", status, raw)
	}
	status, env, _ := doJSON(t, stack, http.MethodPost, "/api/auth/register", nil, body)
	if status != http.StatusBadRequest {
		t.Fatalf("expected plain duplicate 400, got %d", status)
	}
	if env.Error == nil || env.Error.Message != "User already exists" {
		t.Errorf("unexpected error %+v", env.Error)
	}
}
