package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	mirror "github.com/goliatone/go-treemirror"
	"github.com/goliatone/go-treemirror/pkg/memremote"
	"github.com/goliatone/go-treemirror/pkg/wsremote"
)

func newTestFlagSet(cf *configFlags) *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cf.AddFlags(fs)
	return fs
}

func TestConfigFlagsOverrides(t *testing.T) {
	cf := &configFlags{}
	root := newTestFlagSet(cf)
	require.NoError(t, root.Parse([]string{"--engine", "cel", "--url", "ws://example.test/ws", "--metrics"}))

	got := cf.overrides()
	require.Equal(t, "cel", got.Evaluator.Engine)
	require.Equal(t, "ws://example.test/ws", got.Remote.URL)
	require.True(t, got.Metrics.Enabled)
	require.Empty(t, got.Log.Level)
	require.Empty(t, got.Remote.Codec)
}

func TestConfigCommandPrintsResolvedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mirror.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: debug\nremote:\n  codec: cbor\n"), 0o600))

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", path, "--engine", "cel"})
	require.NoError(t, root.Execute())

	var cfg mirror.Config
	require.NoError(t, json.Unmarshal(out.Bytes(), &cfg))
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "cbor", cfg.Remote.Codec)
	require.Equal(t, "cel", cfg.Evaluator.Engine)
	require.Equal(t, mirror.DefaultConfig().Remote.DialTimeout, cfg.Remote.DialTimeout)
}

func TestConfigCommandTrace(t *testing.T) {
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--trace", "--codec", "cbor"})
	require.NoError(t, root.Execute())

	var traces []mirror.ConfigTrace
	require.NoError(t, json.Unmarshal(out.Bytes(), &traces))
	winners := map[string]string{}
	for _, trace := range traces {
		winners[trace.Path] = trace.Winner()
	}
	require.Equal(t, "flags/0", winners["remote.codec"])
	require.Equal(t, "defaults", winners["evaluator.engine"])
}

func TestWatchRequiresPaths(t *testing.T) {
	root := newRootCommand()
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"watch", "--url", "ws://example.test/ws"})
	require.ErrorIs(t, root.Execute(), errNoPaths)
}

func TestLoadSeed(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "seed.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("rooms:\n  lobby:\n    title: Lobby\n    size: 3\n  empty: {}\n"), 0o600))
	jsonPath := filepath.Join(dir, "seed.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"rooms":{"lobby":{"title":"Lobby","size":3}}}`), 0o600))

	want := mirror.MustValue(map[string]any{"rooms": map[string]any{"lobby": map[string]any{"title": "Lobby", "size": 3}}})
	for _, path := range []string{yamlPath, jsonPath} {
		got, err := loadSeed(path)
		require.NoError(t, err)
		require.True(t, got.Equal(want), "seed %s: got %s", path, got)
	}

	_, err := loadSeed(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestPrinterPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	p := newPrinter(&out)
	p.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	path := mirror.PathOf("rooms/lobby")
	tree := mirror.Reduce(mirror.Tree{}, mirror.FetchStarted{Path: path})
	p.watch(tree, []mirror.Path{path})

	tree = mirror.Reduce(tree, mirror.NodeValueReceived{Path: path, Value: mirror.MustValue(map[string]any{"title": "Lobby"})})
	p.print(tree)
	p.print(tree)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	var last change
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &last))
	require.Equal(t, "rooms/lobby", last.Key)
	require.True(t, last.Loaded)
	require.Equal(t, map[string]any{"title": "Lobby"}, last.Value)
}

func TestServeMux(t *testing.T) {
	backend := memremote.New(memremote.WithData(mirror.MustValue(map[string]any{"greeting": "hi"})))
	ws := wsremote.NewServer(backend)
	t.Cleanup(func() { _ = ws.Close() })

	handler, err := serveMux(ws, mirror.MetricsConfig{Enabled: true, Namespace: "treemirror"})
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := wsremote.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	got := make(chan mirror.Value, 1)
	_, err = client.Listen(client.Ref("greeting"), func(d mirror.Delivery) {
		select {
		case got <- d.Value:
		default:
		}
	})
	require.NoError(t, err)
	select {
	case v := <-got:
		require.True(t, v.Equal(mirror.String("hi")))
	case <-time.After(2 * time.Second):
		t.Fatal("expected greeting delivery")
	}

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(body), "treemirror_server_sessions 1")
}
