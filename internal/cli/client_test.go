package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientSendsIdentityAndIdempotencyKey(t *testing.T) {
	var gotPlayer, gotKey, gotPath string
	var gotBody map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPlayer = r.Header.Get("X-Player-ID")
		gotKey = r.Header.Get("Idempotency-Key")
		gotPath = r.Method + " " + r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer ts.Close()

	c := NewClient(ts.URL+"/", "pilot-1")
	out, err := c.Send(context.Background(), TradeWrite("ORE", "buy", 3), "key-1")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if out["success"] != true {
		t.Fatalf("unexpected body %v", out)
	}
	if gotPlayer != "pilot-1" || gotKey != "key-1" || gotPath != "POST /v1/trades" {
		t.Fatalf("unexpected request player=%q key=%q path=%q", gotPlayer, gotKey, gotPath)
	}
	if gotBody["resource"] != "ORE" || gotBody["quantity"].(float64) != 3 {
		t.Fatalf("unexpected body %v", gotBody)
	}
}

func TestClientReturnsAPIError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"success":false,"error":"insufficient funds"}`))
	}))
	defer ts.Close()

	_, err := NewClient(ts.URL, "p1").Send(context.Background(), DailyWrite(), "")
	if !IsAPIError(err) {
		t.Fatalf("expected api error, got %v", err)
	}
	if err.(*APIError).Status != 422 || err.(*APIError).Message != "insufficient funds" {
		t.Fatalf("unexpected api error %+v", err)
	}
}

func TestModuleWriteRoutes(t *testing.T) {
	tests := []struct {
		verb, method, path string
	}{
		{"upgrade", http.MethodPost, "/v1/modules/m1/upgrade"},
		{"toggle", http.MethodPost, "/v1/modules/m1/toggle"},
		{"repair", http.MethodPost, "/v1/modules/m1/repair"},
		{"demolish", http.MethodDelete, "/v1/modules/m1"},
	}
	for _, tc := range tests {
		w := ModuleWrite(tc.verb, "m1")
		if w.Method != tc.method || w.Path != tc.path {
			t.Fatalf("%s: got %s %s", tc.verb, w.Method, w.Path)
		}
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error without a session")
	}
	if err := SaveSession(Session{PlayerID: "pilot-9"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	s, err := LoadSession()
	if err != nil || s.PlayerID != "pilot-9" {
		t.Fatalf("load: %+v %v", s, err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(); err == nil {
		t.Fatalf("expected error after clear")
	}
}
