package cli_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/rshade/memctl/internal/cli"
	"github.com/rshade/memctl/internal/config"
	"github.com/rshade/memctl/internal/remote"
)

// fakeService is an httptest memory service speaking the REST API the
// remote client uses.
type fakeService struct {
	*httptest.Server

	version     string
	suggestions []remote.Suggestion
	failBlocks  map[string]string
	// onKeywords runs at the start of each keyword request.
	onKeywords func()

	mu           sync.Mutex
	listQueries  []string
	keywordCalls [][]string
	compactions  []remote.CompactionRequest
	applies      []string
}

func newFakeService(t *testing.T, suggestions ...remote.Suggestion) *fakeService {
	t.Helper()
	f := &fakeService{version: "0.7.0", suggestions: suggestions}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, remote.HealthResponse{Status: "ok", Version: f.version})
	})
	mux.HandleFunc("GET /v1/suggestions", f.listSuggestions)
	mux.HandleFunc("POST /v1/keywords/bulk-generate", f.generateKeywords)
	mux.HandleFunc("POST /v1/blocks/compact", f.compact)
	mux.HandleFunc("POST /v1/suggestions/{id}/apply", f.apply)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeService) listSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.listQueries = append(f.listQueries, q.Encode())
	f.mu.Unlock()

	out := make([]remote.Suggestion, 0, len(f.suggestions))
	for _, s := range f.suggestions {
		if typ := q.Get("type"); typ != "" && string(s.Type) != typ {
			continue
		}
		if status := q.Get("status"); status != "" && s.Status != status {
			continue
		}
		if agent := q.Get("agent_id"); agent != "" && s.AgentID != agent {
			continue
		}
		out = append(out, s)
	}
	writeJSON(w, map[string]any{"suggestions": out})
}

func (f *fakeService) generateKeywords(w http.ResponseWriter, r *http.Request) {
	var body struct {
		BlockIDs []string `json:"block_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.keywordCalls = append(f.keywordCalls, body.BlockIDs)
	hook := f.onKeywords
	f.mu.Unlock()
	if hook != nil {
		hook()
	}

	resp := remote.KeywordResponse{}
	for _, id := range body.BlockIDs {
		if reason, bad := f.failBlocks[id]; bad {
			resp.Results = append(resp.Results, remote.KeywordResult{BlockID: id, Error: reason})
		} else {
			resp.Results = append(resp.Results, remote.KeywordResult{BlockID: id, Keywords: []string{"kw-" + id}})
			resp.SuccessfulCount++
		}
		resp.TotalProcessed++
	}
	writeJSON(w, resp)
}

func (f *fakeService) compact(w http.ResponseWriter, r *http.Request) {
	var req remote.CompactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.compactions = append(f.compactions, req)
	f.mu.Unlock()

	writeJSON(w, remote.CompactionResponse{
		Summary: "compacted " + strconv.Itoa(len(req.BlockIDs)) + " blocks",
		Metrics: remote.CompactionMetrics{
			BlocksProcessed: len(req.BlockIDs),
			CharsBefore:     12000,
			CharsAfter:      4000,
		},
	})
}

func (f *fakeService) apply(w http.ResponseWriter, r *http.Request) {
	var req remote.ApplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.applies = append(f.applies, r.PathValue("id")+":"+string(req.Type))
	f.mu.Unlock()

	writeJSON(w, remote.CompactionResponse{
		Summary: string(req.Type) + " applied",
		Metrics: remote.CompactionMetrics{BlocksProcessed: len(req.BlockIDs)},
	})
}

func (f *fakeService) keywordRequests() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.keywordCalls...)
}

func (f *fakeService) listCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listQueries)
}

// setupCLITest isolates the global config directory and resets global
// state after the test. It returns the MEMCTL_HOME directory.
func setupCLITest(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("MEMCTL_HOME", home)
	t.Setenv("MEMCTL_PROJECT_DIR", filepath.Join(t.TempDir(), "project"))
	t.Setenv("MEMCTL_LOG_LEVEL", "error")
	t.Setenv("MEMCTL_API_TOKEN", "")
	t.Cleanup(func() {
		config.ResetGlobalConfigForTest()
		config.SetResolvedProjectDir("")
	})
	return home
}

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, args ...string) cliResult {
	t.Helper()
	return runCLIWithContext(t, context.Background(), "", args...)
}

func runCLIWithContext(t *testing.T, ctx context.Context, stdin string, args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := cli.NewRootCmdWithEnv("test", os.LookupEnv)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(bytes.NewBufferString(stdin))
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(ctx)
	return cliResult{stdout: stdout.String(), stderr: stderr.String(), err: err}
}
