package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func writeJSON(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cli.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	full := writeJSON(t, `{"server_endpoint_addr":"auth:50051","ops_endpoint_url":"http://auth:8080","request_timeout":"30s"}`)
	partial := writeJSON(t, `{"request_timeout":"2s"}`)

	tests := []struct {
		name string
		args []string
		want Config
	}{
		{"defaults", nil, Config{ServerEndpointAddr: "127.0.0.1:50051", OpsEndpointURL: "http://127.0.0.1:8080", RequestTimeout: 10 * time.Second}},
		{"json", []string{"-c", full}, Config{ServerEndpointAddr: "auth:50051", OpsEndpointURL: "http://auth:8080", RequestTimeout: 30 * time.Second}},
		{"partial json keeps defaults", []string{"-config", partial}, Config{ServerEndpointAddr: "127.0.0.1:50051", OpsEndpointURL: "http://127.0.0.1:8080", RequestTimeout: 2 * time.Second}},
		{"flags override json", []string{"-c", full, "-a", "localhost:1", "-o", "http://localhost:2", "-t", "5"}, Config{ServerEndpointAddr: "localhost:1", OpsEndpointURL: "http://localhost:2", RequestTimeout: 5 * time.Second}},
		{"unknown flags ignored", []string{"-x", "1", "-a", "h:2"}, Config{ServerEndpointAddr: "h:2", OpsEndpointURL: "http://127.0.0.1:8080", RequestTimeout: 10 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Load(tt.args)
			if diff := cmp.Diff(tt.want, *got); diff != "" {
				t.Errorf("Load mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLoad_PanicsOnBadInput(t *testing.T) {
	bad := writeJSON(t, `{"request_timeout":true}`)

	require.Panics(t, func() { Load([]string{"-c", bad}) })
	require.Panics(t, func() { Load([]string{"-c", filepath.Join(t.TempDir(), "missing.json")}) })
	require.Panics(t, func() { Load([]string{"-t", "soon"}) })
}
