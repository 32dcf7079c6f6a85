package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jpl-au/memd/internal/docstore"
	"github.com/jpl-au/memd/internal/memory"
	"github.com/jpl-au/memd/internal/search"
	"github.com/jpl-au/memd/internal/server"
)

func newTestServer(t *testing.T, auth server.Auth) (*httptest.Server, *memory.Memory) {
	t.Helper()
	docs, err := docstore.NewFS(t.TempDir())
	require.NoError(t, err)
	mem, err := memory.New().WithDocumentStore(docs).Build()
	require.NoError(t, err)
	require.NoError(t, mem.Start(context.Background()))
	t.Cleanup(func() { _ = mem.Close() })

	ts := httptest.NewServer(server.New(mem, auth, zap.NewNop()).Router())
	t.Cleanup(ts.Close)
	return ts, mem
}

// upload posts one text file through the multipart endpoint.
func upload(t *testing.T, ts *httptest.Server, docID, text string, tagPairs ...string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("index", "default"))
	require.NoError(t, mw.WriteField("documentId", docID))
	for _, p := range tagPairs {
		require.NoError(t, mw.WriteField("tags", p))
	}
	fw, err := mw.CreateFormFile("file1", "notes.txt")
	require.NoError(t, err)
	_, err = fw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

func waitReady(t *testing.T, mem *memory.Memory, idx, doc string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ready, err := mem.IsReady(context.Background(), idx, doc)
		return err == nil && ready
	}, 5*time.Second, 10*time.Millisecond)
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUploadAskSearchFlow(t *testing.T) {
	ts, mem := newTestServer(t, server.Auth{})

	resp := upload(t, ts, "d1", "In physics, E = m*c^2 relates mass and energy.")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	up := decode[map[string]string](t, resp)
	assert.Equal(t, "default", up["index"])
	assert.Equal(t, "d1", up["documentId"])
	waitReady(t, mem, "default", "d1")

	resp = postJSON(t, ts.URL+"/ask", map[string]any{"question": "What's E = m*c^2?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	ans := decode[search.Answer](t, resp)
	assert.True(t, strings.Contains(ans.Text, "mass") || strings.Contains(ans.Text, "energy"))
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, "d1", ans.Citations[0].DocumentID)

	resp = postJSON(t, ts.URL+"/search", map[string]any{"query": "mass energy"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[search.Results](t, resp)
	assert.NotEmpty(t, res.Citations)
}

func TestAsk_FiltersNarrowAndCombine(t *testing.T) {
	ts, mem := newTestServer(t, server.Auth{})

	resp := upload(t, ts, "d2", "the admin guide covers mass and energy", "type:news", "user:admin", "user:owner")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	resp = upload(t, ts, "d3", "the blake notes also cover mass and energy", "user:blake")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()
	waitReady(t, mem, "default", "d2")
	waitReady(t, mem, "default", "d3")

	// Non-matching tag: the configured empty answer.
	resp = postJSON(t, ts.URL+"/ask", map[string]any{
		"question": "mass and energy",
		"filter":   map[string][]string{"user": {"someone"}},
	})
	ans := decode[search.Answer](t, resp)
	assert.True(t, ans.NoResult)

	// Matching tag cites the right document.
	resp = postJSON(t, ts.URL+"/ask", map[string]any{
		"question": "mass and energy",
		"filter":   map[string][]string{"user": {"admin"}},
	})
	ans = decode[search.Answer](t, resp)
	assert.False(t, ans.NoResult)
	require.NotEmpty(t, ans.Citations)
	assert.Equal(t, "d2", ans.Citations[0].DocumentID)

	// Conjunction with a non-matching pair is empty again.
	resp = postJSON(t, ts.URL+"/ask", map[string]any{
		"question": "mass and energy",
		"filter":   map[string][]string{"type": {"news"}, "user": {"someone"}},
	})
	ans = decode[search.Answer](t, resp)
	assert.True(t, ans.NoResult)

	// OR across filters cites both documents.
	resp = postJSON(t, ts.URL+"/ask", map[string]any{
		"question": "mass and energy",
		"filters": []map[string][]string{
			{"user": {"admin"}},
			{"user": {"blake"}},
		},
	})
	ans = decode[search.Answer](t, resp)
	docs := map[string]bool{}
	for _, c := range ans.Citations {
		docs[c.DocumentID] = true
	}
	assert.True(t, docs["d2"] && docs["d3"], "both tagged documents cited: %v", docs)
}

func TestUploadStatus(t *testing.T) {
	ts, mem := newTestServer(t, server.Auth{})
	resp := upload(t, ts, "d4", "some text to ingest here")
	resp.Body.Close()
	waitReady(t, mem, "default", "d4")

	resp, err := http.Get(ts.URL + "/upload-status?index=default&documentId=d4")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	st := decode[map[string]any](t, resp)
	assert.Equal(t, "d4", st["document_id"])
	assert.Equal(t, true, st["completed"])
	assert.NotEmpty(t, st["files"], "artifact ledger is part of the status")

	resp, err = http.Get(ts.URL + "/upload-status?index=default&documentId=ghost")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteDocumentAndIndex(t *testing.T) {
	ts, mem := newTestServer(t, server.Auth{})
	resp := upload(t, ts, "d5", "temporary content about quokkas")
	resp.Body.Close()
	waitReady(t, mem, "default", "d5")

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/documents?index=default&documentId=d5", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	require.Eventually(t, func() bool {
		res, err := mem.Search(context.Background(), "default", "quokkas", search.Options{})
		return err == nil && len(res.Citations) == 0
	}, 5*time.Second, 10*time.Millisecond)

	req, err = http.NewRequest(http.MethodDelete, ts.URL+"/indexes?index=default", nil)
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/indexes")
	require.NoError(t, err)
	entries := decode[[]map[string]string](t, resp)
	assert.Empty(t, entries)
}

func TestSearch_MissingIndexIsEmpty200(t *testing.T) {
	ts, _ := newTestServer(t, server.Auth{})
	resp := postJSON(t, ts.URL+"/search", map[string]any{"query": "anything", "index": "ghost"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	res := decode[search.Results](t, resp)
	assert.Empty(t, res.Citations)
}

func TestValidationErrorsAre400(t *testing.T) {
	ts, _ := newTestServer(t, server.Auth{})

	resp := postJSON(t, ts.URL+"/ask", map[string]any{"index": "default"})
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing question")

	resp = upload(t, ts, "dx", "text", "__reserved:value")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "reserved tag key")

	resp = upload(t, ts, "dx", "")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "zero-byte file")
}

func TestAuth(t *testing.T) {
	auth := server.NewAuth("X-Memd-Key", "key-one", "key-two")
	ts, _ := newTestServer(t, auth)

	cases := []struct {
		key  string
		want int
	}{
		{"", http.StatusUnauthorized},
		{"wrong", http.StatusUnauthorized},
		{"key-one", http.StatusOK},
		{"key-two", http.StatusOK},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodGet, ts.URL+"/indexes", nil)
		require.NoError(t, err)
		if tc.key != "" {
			req.Header.Set("X-Memd-Key", tc.key)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, tc.want, resp.StatusCode, "key %q", tc.key)
	}

	// Health stays open for probes.
	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
