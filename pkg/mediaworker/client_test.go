package mediaworker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmit(t *testing.T) {
	var received Job
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	job := Job{
		TaskID:     42,
		SourcePath: "/data/mirror/7/source/a.mp4",
		Kind:       "av1",
		Options:    map[string]string{"crf": "30"},
	}
	require.NoError(t, client.Submit(context.Background(), job))
	assert.Equal(t, job, received)
}

func TestSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "queue full", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second)
	err := client.Submit(context.Background(), Job{TaskID: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "queue full")
}

func TestSubmitUnreachable(t *testing.T) {
	client := NewClient("http://127.0.0.1:1/submit_job", 200*time.Millisecond)
	assert.Error(t, client.Submit(context.Background(), Job{TaskID: 1}))
}
