package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, handler http.HandlerFunc, args ...string) (string, error) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Cleanup(func() { jsonOutput = false })

	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--server", srv.URL}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestStatusCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/uploads/u-1", r.URL.Path)
		w.Write([]byte(`{"upload_id":"u-1","filename":"a.mp4","progress":100,"status":"completed","drive_file_id":"f1"}`))
	}, "status", "u-1")

	require.NoError(t, err)
	assert.Contains(t, out, "completed (100%)")
	assert.Contains(t, out, "远程文件: f1")
}

func TestStatusCommandNotFound(t *testing.T) {
	_, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"上传任务不存在"}`))
	}, "status", "nope")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "上传任务不存在")
}

func TestScanCommand(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		w.Write([]byte(`{"results":[{"meeting_id":"m1","status":"started"},{"meeting_id":"m2","status":"failed","error":"bad link"}],"count":2}`))
	}, "scan")

	require.NoError(t, err)
	assert.Contains(t, out, "m1")
	assert.Contains(t, out, "❌ m2: bad link")
}

func TestMinutesCommandJSON(t *testing.T) {
	out, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"meeting_id":"m1","transcript":"hello world","summary":"hello world"}`))
	}, "minutes", "m1", "--json")

	require.NoError(t, err)
	assert.Contains(t, out, `"summary": "hello world"`)
}

func TestProcessCommandRequiresArg(t *testing.T) {
	_, err := runCommand(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("不应发出请求")
	}, "process")
	assert.Error(t, err)
}
