package metrics

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestCollectorsGather(t *testing.T) {
	// Exercise every helper so each family has samples.
	ObserveDispatch("answered", "factual_recall", time.Now().Add(-50*time.Millisecond))
	ObserveDispatch("failed", "applied_memory", time.Now())
	AddRetries(2)
	AddRetries(0)
	ObservePrompt(12000, true)
	ObservePrompt(800, false)
	ObserveScore("factual_recall", 0.5)
	IncExcluded("personalization")
	IncScoreError("applied_memory")
	IncJudgeCache(true)
	IncJudgeCache(false)

	reg := prometheus.NewRegistry()
	reg.MustRegister(Collectors()...)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	got := make(map[string]bool, len(families))
	for _, mf := range families {
		got[mf.GetName()] = true
	}

	want := []string{
		"membench_dispatch_total",
		"membench_dispatch_latency_ms",
		"membench_dispatch_retries_total",
		"membench_prompt_tokens",
		"membench_context_truncated_total",
		"membench_score_total",
		"membench_score_value",
		"membench_judge_cache_total",
	}
	for _, name := range want {
		if !got[name] {
			t.Errorf("missing metric family %s", name)
		}
	}
}

func TestServe(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := lis.Addr().String()
	lis.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, addr)
	}()

	ObserveDispatch("answered", "factual_recall", time.Now())

	// The listener needs a moment to come up.
	var resp *http.Response
	url := fmt.Sprintf("http://%s/metrics", addr)
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		cancel()
		t.Fatalf("get metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		cancel()
		t.Fatalf("read body: %v", err)
	}
	if !strings.Contains(string(body), "membench_dispatch_total") {
		t.Errorf("metrics output missing dispatch counter")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("serve returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Error("serve did not shut down")
	}
}
