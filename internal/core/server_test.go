package core

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.MaxFileSize = 1 << 20

	srv, err := NewServer(cfg)
	require.NoError(t, err, "NewServer error")

	httpSrv := httptest.NewServer(srv.Handler())
	t.Cleanup(httpSrv.Close)
	return httpSrv
}

func decodeEnvelope(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return env
}

func TestLivenessAndHealth(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)

	resp, err := http.Get(httpSrv.URL + "/")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpSrv.URL + "/health")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	require.Equal(t, "ok", health["status"])
}

func TestCreateAndListBuckets(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"name": "widgets"})
	resp, err := http.Post(httpSrv.URL+"/api/buckets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)

	resp, err = http.Get(httpSrv.URL + "/api/buckets")
	require.NoError(t, err)
	env = decodeEnvelope(t, resp)
	list := env.Data.([]any)
	require.Len(t, list, 1)
}

func TestCreateDuplicateBucketConflicts(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)

	body, _ := json.Marshal(map[string]string{"name": "widgets"})
	_, err := http.Post(httpSrv.URL+"/api/buckets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)

	resp, err := http.Post(httpSrv.URL+"/api/buckets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.False(t, env.Success)
	require.NotNil(t, env.Error)
}

func createBucket(t *testing.T, base, name string) {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"name": name})
	resp, err := http.Post(base+"/api/buckets", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestObjectPutGetDelete(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)
	createBucket(t, httpSrv.URL, "widgets")

	req, err := http.NewRequest(http.MethodPut, httpSrv.URL+"/api/buckets/widgets/objects/gizmo.txt", bytes.NewReader([]byte("hello")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpSrv.URL + "/api/buckets/widgets/objects/gizmo.txt")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data))
	require.NotEmpty(t, resp.Header.Get("ETag"))

	req, err = http.NewRequest(http.MethodDelete, httpSrv.URL+"/api/buckets/widgets/objects/gizmo.txt", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(httpSrv.URL + "/api/buckets/widgets/objects/gizmo.txt")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMultipartPutOverHTTP(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)
	createBucket(t, httpSrv.URL, "widgets")

	url := httpSrv.URL + "/api/buckets/widgets/objects/big.bin/multipart?part_number=1&total_parts=2&upload_id=upload-1"
	req, err := http.NewRequest(http.MethodPut, url, bytes.NewReader([]byte("first-chunk")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	obj := env.Data.(map[string]any)
	partKey, ok := obj["key"].(string)
	require.True(t, ok)
	require.NotEqual(t, "big.bin", partKey)

	resp, err = http.Get(httpSrv.URL + "/api/buckets/widgets/objects/" + partKey)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "first-chunk", string(data))
}

func TestRejectDedupOverHTTP(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)
	createBucket(t, httpSrv.URL, "widgets")

	put := func(key string, body string, mode string) *http.Response {
		req, err := http.NewRequest(http.MethodPut, httpSrv.URL+"/api/buckets/widgets/objects/"+key+"?deduplication_mode="+mode, bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		return resp
	}

	resp := put("a", "hello", "reject")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = put("b", "hello", "reject")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestListObjectsEnvelope(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)
	createBucket(t, httpSrv.URL, "widgets")

	for _, key := range []string{"a", "b", "c"} {
		req, err := http.NewRequest(http.MethodPut, httpSrv.URL+"/api/buckets/widgets/objects/"+key, bytes.NewReader([]byte(key)))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(httpSrv.URL + "/api/buckets/widgets/objects")
	require.NoError(t, err)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
	m := env.Data.(map[string]any)
	require.Len(t, m["objects"], 3)
}

func TestSelftestEndpoint(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)

	resp, err := http.Get(httpSrv.URL + "/api/selftest")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env := decodeEnvelope(t, resp)
	require.True(t, env.Success)
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()
	httpSrv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, httpSrv.URL+"/api/buckets", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}
