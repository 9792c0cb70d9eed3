package lifecycle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTagsServer(t *testing.T, models ...string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		type tag struct {
			Name string `json:"name"`
		}
		tags := make([]tag, len(models))
		for i, m := range models {
			tags[i] = tag{Name: m}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": tags})
	}))
}

func TestNewManagerDefaultsHost(t *testing.T) {
	t.Setenv("MNEMO_OLLAMA_HOST", "")
	m := NewManager("")
	assert.Equal(t, DefaultHost, m.Host())
}

func TestNewManagerTrimsTrailingSlash(t *testing.T) {
	t.Setenv("MNEMO_OLLAMA_HOST", "")
	m := NewManager("http://backend:11434/")
	assert.Equal(t, "http://backend:11434", m.Host())
}

func TestNewManagerEnvOverride(t *testing.T) {
	t.Setenv("MNEMO_OLLAMA_HOST", "http://remote:11434")
	m := NewManager("http://localhost:11434")
	assert.Equal(t, "http://remote:11434", m.Host())
}

func TestIsReachable(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text")
	defer srv.Close()

	m := NewManager(srv.URL)
	assert.True(t, m.IsReachable(context.Background()))
}

func TestIsReachableDownBackend(t *testing.T) {
	srv := newTagsServer(t)
	srv.Close() // closed before use

	m := NewManager(srv.URL)
	assert.False(t, m.IsReachable(context.Background()))
}

func TestListModels(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text:latest", "qwen2.5:3b")
	defer srv.Close()

	m := NewManager(srv.URL)
	models, err := m.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"nomic-embed-text:latest", "qwen2.5:3b"}, models)
}

func TestHasModelMatchesBaseName(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text:latest")
	defer srv.Close()

	m := NewManager(srv.URL)

	has, err := m.HasModel(context.Background(), "nomic-embed-text")
	require.NoError(t, err)
	assert.True(t, has)

	has, err = m.HasModel(context.Background(), "qwen2.5:3b")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestCheckReportsMissingModels(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text:latest")
	defer srv.Close()

	m := NewManager(srv.URL)
	status, err := m.Check(context.Background(), "nomic-embed-text", "qwen2.5:3b", "")
	require.NoError(t, err)

	assert.True(t, status.Reachable)
	assert.Equal(t, []string{"qwen2.5:3b"}, status.Missing)
}

func TestCheckUnreachableBackend(t *testing.T) {
	srv := newTagsServer(t)
	srv.Close()

	m := NewManager(srv.URL)
	status, err := m.Check(context.Background(), "nomic-embed-text")
	require.NoError(t, err)

	assert.False(t, status.Reachable)
	assert.Empty(t, status.Models)
}

func TestWaitForReadyTimesOut(t *testing.T) {
	srv := newTagsServer(t)
	srv.Close()

	m := NewManager(srv.URL)
	err := m.WaitForReady(context.Background(), 300*time.Millisecond)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for backend")
}

func TestPullModelSkipsPresentModel(t *testing.T) {
	srv := newTagsServer(t, "qwen2.5:3b")
	defer srv.Close()

	m := NewManager(srv.URL)
	err := m.PullModel(context.Background(), "qwen2.5:3b", nil)
	require.NoError(t, err)
}

func TestPullModelStreamsProgress(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{"models": []any{}})
		case "/api/pull":
			lines := []string{
				`{"status":"pulling manifest"}`,
				`{"status":"downloading","digest":"sha256:abc","total":100,"completed":50}`,
				`{"status":"success"}`,
			}
			w.Header().Set("Content-Type", "application/x-ndjson")
			_, _ = w.Write([]byte(strings.Join(lines, "\n")))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	m := NewManager(srv.URL)

	var updates []PullProgress
	err := m.PullModel(context.Background(), "qwen2.5:3b", func(p PullProgress) {
		updates = append(updates, p)
	})
	require.NoError(t, err)

	require.Len(t, updates, 3)
	assert.Equal(t, "downloading", updates[1].Status)
	assert.InDelta(t, 50.0, updates[1].Percent, 0.01)
}

func TestEnsureReadyUnreachable(t *testing.T) {
	srv := newTagsServer(t)
	srv.Close()

	m := NewManager(srv.URL)
	err := m.EnsureReady(context.Background(), []string{"nomic-embed-text"}, EnsureOpts{})

	var notReachable *NotReachableError
	require.ErrorAs(t, err, &notReachable)
}

func TestEnsureReadyMissingModelWithoutAutoPull(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text:latest")
	defer srv.Close()

	m := NewManager(srv.URL)
	err := m.EnsureReady(context.Background(), []string{"qwen2.5:3b"}, EnsureOpts{AutoPull: false, Stdout: &strings.Builder{}})

	var notFound *ModelNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "qwen2.5:3b", notFound.Model)
}

func TestEnsureReadyAllModelsPresent(t *testing.T) {
	srv := newTagsServer(t, "nomic-embed-text:latest", "qwen2.5:3b")
	defer srv.Close()

	m := NewManager(srv.URL)
	err := m.EnsureReady(context.Background(), []string{"nomic-embed-text", "qwen2.5:3b"}, EnsureOpts{Stdout: &strings.Builder{}})
	require.NoError(t, err)
}

func TestIsRemoteHost(t *testing.T) {
	assert.False(t, NewManager("http://localhost:11434").IsRemoteHost())
	assert.False(t, NewManager("http://127.0.0.1:11434").IsRemoteHost())
	assert.True(t, NewManager("http://gpu-box:11434").IsRemoteHost())
}
