package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFixtures_BaseOnly(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-subject.txt", `The kickoff is tomorrow at 10am.`)
	writeFixture(t, dir, "mock-judge.json", `{"score":0.9,"verdict":"correct"}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	if len(fixtures) != 2 {
		t.Fatalf("expected 2 models, got %d", len(fixtures))
	}

	// Each model should have exactly one fixture (the base)
	for model, seq := range fixtures {
		if len(seq) != 1 {
			t.Errorf("model %q: expected 1 fixture, got %d", model, len(seq))
		}
	}
}

func TestLoadFixtures_Sequential(t *testing.T) {
	dir := t.TempDir()

	// Numbered judge fixtures (low score then high), base as fallback
	writeFixture(t, dir, "mock-judge.1.json", `{"score":0.2,"verdict":"incorrect"}`)
	writeFixture(t, dir, "mock-judge.2.json", `{"score":0.9,"verdict":"correct","rationale":"revised"}`)
	writeFixture(t, dir, "mock-judge.json", `{"score":0.9,"verdict":"correct","rationale":"fallback"}`)

	// Non-sequential subject model
	writeFixture(t, dir, "mock-subject.txt", `It was Tuesday.`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	judgeSeq := fixtures["mock-judge"]
	if len(judgeSeq) != 3 {
		t.Fatalf("mock-judge: expected 3 fixtures, got %d", len(judgeSeq))
	}

	// Numbered first (sorted), then base
	if !strings.Contains(judgeSeq[0], "incorrect") {
		t.Errorf("fixture[0] should be the low score, got: %s", judgeSeq[0])
	}
	if !strings.Contains(judgeSeq[1], "revised") {
		t.Errorf("fixture[1] should be the revised verdict, got: %s", judgeSeq[1])
	}
	if !strings.Contains(judgeSeq[2], "fallback") {
		t.Errorf("fixture[2] should be the fallback, got: %s", judgeSeq[2])
	}

	subjectSeq := fixtures["mock-subject"]
	if len(subjectSeq) != 1 {
		t.Fatalf("mock-subject: expected 1 fixture, got %d", len(subjectSeq))
	}
}

func TestLoadFixtures_NumberedOnly(t *testing.T) {
	dir := t.TempDir()

	writeFixture(t, dir, "mock-judge.1.json", `{"score":0.1}`)
	writeFixture(t, dir, "mock-judge.2.json", `{"score":0.8}`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}

	seq := fixtures["mock-judge"]
	if len(seq) != 2 {
		t.Fatalf("expected 2 fixtures, got %d", len(seq))
	}
}

func TestLoadFixtures_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	writeFixture(t, dir, "mock-judge.json", `{"score":`)

	if _, err := loadFixtures(dir); err == nil {
		t.Fatal("expected error for invalid JSON fixture")
	}
}

func TestLoadFixtures_TextNotValidated(t *testing.T) {
	dir := t.TempDir()
	// Subject answers are prose; braces and halves of JSON are fine.
	writeFixture(t, dir, "mock-subject.txt", `The config is {"a": unfinished`)

	fixtures, err := loadFixtures(dir)
	if err != nil {
		t.Fatalf("loadFixtures: %v", err)
	}
	if len(fixtures["mock-subject"]) != 1 {
		t.Fatalf("expected the text fixture to load")
	}
}

func TestLoadFixtures_EmptyDir(t *testing.T) {
	dir := t.TempDir()

	if _, err := loadFixtures(dir); err == nil {
		t.Fatal("expected error for empty directory")
	}
}

func TestSequentialFixtureSelection(t *testing.T) {
	fixtures := map[string][]string{
		"mock-judge": {
			`{"score":0.2,"verdict":"incorrect"}`,
			`{"score":0.9,"verdict":"correct"}`,
		},
		"mock-subject": {
			`The meeting was Tuesday at 3pm.`,
		},
	}

	s := newServer(fixtures)

	resp1 := doCompletion(t, s, "mock-judge")
	if !strings.Contains(resp1, "incorrect") {
		t.Errorf("call 1: expected the first verdict, got: %s", resp1)
	}

	resp2 := doCompletion(t, s, "mock-judge")
	if !strings.Contains(resp2, `"correct"`) {
		t.Errorf("call 2: expected the second verdict, got: %s", resp2)
	}

	// Beyond the sequence the last fixture repeats.
	resp3 := doCompletion(t, s, "mock-judge")
	if !strings.Contains(resp3, `"correct"`) {
		t.Errorf("call 3: expected the last verdict to repeat, got: %s", resp3)
	}

	// Subject calls are counted independently.
	subjResp := doCompletion(t, s, "mock-subject")
	if !strings.Contains(subjResp, "Tuesday at 3pm") {
		t.Errorf("subject: expected the scripted answer, got: %s", subjResp)
	}
}

func TestStatsEndpoint(t *testing.T) {
	fixtures := map[string][]string{
		"mock-judge":   {`{"score":1}`},
		"mock-subject": {`Tuesday.`},
	}

	s := newServer(fixtures)

	doCompletion(t, s, "mock-judge")
	doCompletion(t, s, "mock-judge")
	doCompletion(t, s, "mock-subject")

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	w := httptest.NewRecorder()
	s.handleStats(w, req)

	var stats struct {
		TotalCalls   int64            `json:"total_calls"`
		CallsByModel map[string]int64 `json:"calls_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&stats); err != nil {
		t.Fatalf("decode stats: %v", err)
	}

	if stats.TotalCalls != 3 {
		t.Errorf("total_calls: expected 3, got %d", stats.TotalCalls)
	}
	if stats.CallsByModel["mock-judge"] != 2 {
		t.Errorf("mock-judge calls: expected 2, got %d", stats.CallsByModel["mock-judge"])
	}
	if stats.CallsByModel["mock-subject"] != 1 {
		t.Errorf("mock-subject calls: expected 1, got %d", stats.CallsByModel["mock-subject"])
	}
}

func TestRequestsEndpointCapturesPrompt(t *testing.T) {
	fixtures := map[string][]string{
		"mock-subject": {`Tuesday.`},
	}
	s := newServer(fixtures)

	body := `{"model":"mock-subject","messages":[{"role":"user","content":"When is the meeting?"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("completion status: %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/requests?model=mock-subject", nil)
	w = httptest.NewRecorder()
	s.handleRequests(w, req)

	var captured struct {
		RequestsByModel map[string][]capturedRequest `json:"requests_by_model"`
	}
	if err := json.NewDecoder(w.Body).Decode(&captured); err != nil {
		t.Fatalf("decode requests: %v", err)
	}
	reqs := captured.RequestsByModel["mock-subject"]
	if len(reqs) != 1 {
		t.Fatalf("expected 1 captured request, got %d", len(reqs))
	}
	if reqs[0].CallIndex != 1 {
		t.Errorf("call index: expected 1, got %d", reqs[0].CallIndex)
	}
	if len(reqs[0].Messages) != 1 || !strings.Contains(reqs[0].Messages[0].Content, "meeting") {
		t.Errorf("captured messages wrong: %+v", reqs[0].Messages)
	}
}

func TestStripMockPrefix(t *testing.T) {
	fixtures := map[string][]string{
		"subject": {`Tuesday.`},
	}

	s := newServer(fixtures)

	// A request for "mock-subject" should resolve to "subject".
	resp := doCompletion(t, s, "mock-subject")
	if !strings.Contains(resp, "Tuesday") {
		t.Errorf("expected mock-prefix stripping to resolve, got: %s", resp)
	}
}

func TestUnknownModelIs404(t *testing.T) {
	s := newServer(map[string][]string{"mock-subject": {`x`}})

	body := `{"model":"nope","messages":[]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", w.Code)
	}
}

func TestNumberedFileRegex(t *testing.T) {
	tests := []struct {
		filename string
		wantBase string
		wantNum  string
		match    bool
	}{
		{"mock-judge.1.json", "mock-judge", "1", true},
		{"mock-judge.2.json", "mock-judge", "2", true},
		{"mock-judge.10.json", "mock-judge", "10", true},
		{"mock-subject.3.txt", "mock-subject", "3", true},
		{"mock-judge.json", "", "", false},
		{"mock-subject.txt", "", "", false},
	}

	for _, tt := range tests {
		matches := numberedFileRe.FindStringSubmatch(tt.filename)
		if tt.match {
			if matches == nil {
				t.Errorf("%s: expected match, got nil", tt.filename)
				continue
			}
			if matches[1] != tt.wantBase {
				t.Errorf("%s: base=%q, want %q", tt.filename, matches[1], tt.wantBase)
			}
			if matches[2] != tt.wantNum {
				t.Errorf("%s: num=%q, want %q", tt.filename, matches[2], tt.wantNum)
			}
		} else if matches != nil {
			t.Errorf("%s: expected no match, got %v", tt.filename, matches)
		}
	}
}

// doCompletion posts a chat completion for model and returns the assistant content.
func doCompletion(t *testing.T, s *server, model string) string {
	t.Helper()

	body := `{"model":"` + model + `","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.handleChatCompletions(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("completion for %s: status %d: %s", model, w.Code, w.Body.String())
	}

	var resp chatResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Choices) != 1 {
		t.Fatalf("expected 1 choice, got %d", len(resp.Choices))
	}
	return resp.Choices[0].Message.Content
}

func writeFixture(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write fixture %s: %v", name, err)
	}
}
