package monitoring

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"

	"github.com/23skdu/hopsurprisal/internal/metrics"
)

func TestSnapshotTracksProgress(t *testing.T) {
	m := NewMonitor("babylm_unwrap_tokens4_100M_randinit_seed0")
	if s := m.Snapshot(); s.Phase != PhaseStarting || s.Status != "healthy" {
		t.Fatalf("initial status %+v", s)
	}

	m.Phase(PhaseEvaluating)
	m.Plan(3000, 30)
	m.CheckpointDone(100)
	m.CheckpointDone(200)

	s := m.Snapshot()
	if s.Phase != PhaseEvaluating || s.Completed != 2 || s.Total != 30 || s.Checkpoint != 200 || s.Examples != 3000 {
		t.Errorf("status %+v", s)
	}
	if s.System.NumCPU <= 0 || s.System.GoVersion == "" {
		t.Errorf("system info %+v", s.System)
	}

	m.Fail(errors.New("checkpoint 300: missing tensor"))
	s = m.Snapshot()
	if s.Status != "failed" || s.Phase != PhaseFailed || !strings.Contains(s.LastError, "missing tensor") {
		t.Errorf("after failure %+v", s)
	}
}

func TestHandlers(t *testing.T) {
	m := NewMonitor("model")
	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	get := func(path string) (*http.Response, []byte) {
		t.Helper()
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatal(err)
		}
		return resp, body
	}

	resp, body := get("/health")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "healthy") {
		t.Errorf("/health: %d %s", resp.StatusCode, body)
	}

	m.Plan(10, 2)
	m.CheckpointDone(100)
	_, body = get("/status")
	var s Status
	if err := json.Unmarshal(body, &s); err != nil {
		t.Fatalf("decode /status: %v", err)
	}
	if s.Model != "model" || s.Completed != 1 || s.Total != 2 {
		t.Errorf("/status %+v", s)
	}

	metrics.RecordCheckpointCompleted(1)
	_, body = get("/metrics")
	if !strings.Contains(string(body), "hop_checkpoints_completed") {
		t.Error("/metrics does not expose hop metrics")
	}

	m.Fail(errors.New("boom"))
	if resp, _ := get("/healthz"); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("/healthz after failure: %d", resp.StatusCode)
	}
}

func TestStartStop(t *testing.T) {
	m := NewMonitor("model")
	addr, err := m.Start("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Get("http://" + addr + "/health")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
	if err := m.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := NewMonitor("idle").Stop(context.Background()); err != nil {
		t.Errorf("Stop without Start: %v", err)
	}
}
