package observe

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestInitProvider_ExportsPrometheus(t *testing.T) {
	ctx := context.Background()
	p, err := InitProvider(ctx, ProviderConfig{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("InitProvider: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown(ctx) })

	m, err := NewMetrics(p.MeterProvider())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	m.RecordScored(ctx, "wer", 1, 0)

	srv := httptest.NewServer(p.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "asr_eval_utterances") {
		t.Errorf("exported metrics missing asr_eval_utterances:\n%s", body)
	}

	names, err := p.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(names) == 0 {
		t.Error("Gather returned no families")
	}
}
