package worker

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowgraph/graphengine/pkg/graph"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer() (*Server, *gin.Engine) {
	srv := NewServer(graph.DefaultRegistry(), NewMemStore(), nil)
	r := gin.New()
	srv.Routes(r)
	return srv, r
}

func TestServer_SubmitUnknownNodeTypeRejected(t *testing.T) {
	_, r := newTestServer()

	req := SubmitRequest{NodeType: "does_not_exist", Settings: json.RawMessage(`{}`)}
	w := doRequest(r, "POST", "/submit", req)
	assert.Equal(t, 422, w.Code)
}

func TestServer_SubmitInvalidSettingsRejected(t *testing.T) {
	_, r := newTestServer()

	req := SubmitRequest{NodeType: "filter", Settings: json.RawMessage(`{}`)}
	w := doRequest(r, "POST", "/submit", req)
	assert.Equal(t, 422, w.Code)
}

func TestServer_SubmitStatusFetchRoundTrip(t *testing.T) {
	_, r := newTestServer()

	main := WireFrame{
		Columns: []WireColumn{{Name: "n", DType: "int64"}},
		Rows: []map[string]interface{}{
			{"n": float64(1)}, {"n": float64(2)}, {"n": float64(3)},
		},
	}
	req := SubmitRequest{
		NodeType: "filter",
		Settings: json.RawMessage(`{"expression":"n > 1"}`),
		Inputs:   WireInputs{Main: []WireFrame{main}},
	}

	w := doRequest(r, "POST", "/submit", req)
	require.Equal(t, 202, w.Code)

	var submitResp SubmitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &submitResp))
	require.NotEmpty(t, submitResp.TaskID)

	var status StatusResponse
	require.Eventually(t, func() bool {
		w := doRequest(r, "GET", "/status/"+submitResp.TaskID, nil)
		if w.Code != 200 {
			return false
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
		return status.Status == TaskStatusCompleted
	}, time.Second, 5*time.Millisecond)

	w = doRequest(r, "GET", "/fetch/"+status.CacheKey, nil)
	require.Equal(t, 200, w.Code)

	var fetchResp FetchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fetchResp))
	assert.Len(t, fetchResp.Frame.Rows, 2)
}

func TestServer_StatusUnknownTaskNotFound(t *testing.T) {
	_, r := newTestServer()
	w := doRequest(r, "GET", "/status/nope", nil)
	assert.Equal(t, 404, w.Code)
}

func TestServer_CancelUnknownTaskNotFound(t *testing.T) {
	_, r := newTestServer()
	w := doRequest(r, "POST", "/cancel/nope", nil)
	assert.Equal(t, 404, w.Code)
}

func doRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}
