package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ggonzalez94/ethpilot/internal/model"
)

type staticSource struct {
	report model.StatusReport
}

func (s staticSource) Status() model.StatusReport { return s.report }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(NewRouter(staticSource{}, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected healthz response %d %q", resp.StatusCode, body)
	}
}

func TestStatusEnvelope(t *testing.T) {
	report := model.StatusReport{
		Sessions: 2,
		Subscriptions: []model.SubscriptionView{
			{ChatID: 42, Address: "0x1111111111111111111111111111111111111111", Cursor: 101},
		},
		Budget: &model.BudgetUsage{Used: 1500, Limit: 300_000_000},
	}
	srv := httptest.NewServer(NewRouter(staticSource{report: report}, testLogger()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/status")
	if err != nil {
		t.Fatalf("GET /v1/status failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	var env struct {
		Version string             `json:"version"`
		Success bool               `json:"success"`
		Data    model.StatusReport `json:"data"`
		Meta    model.EnvelopeMeta `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if env.Version != "v1" || !env.Success || env.Meta.Command != "status" || env.Meta.RequestID == "" {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if env.Data.Sessions != 2 || len(env.Data.Subscriptions) != 1 || env.Data.Subscriptions[0].Cursor != 101 {
		t.Fatalf("unexpected status data %+v", env.Data)
	}
	if env.Data.Budget == nil || env.Data.Budget.Used != 1500 {
		t.Fatalf("unexpected budget %+v", env.Data.Budget)
	}
}

func TestServeStopsOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, ln, NewRouter(staticSource{}, testLogger()), testLogger()) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("server never came up: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
