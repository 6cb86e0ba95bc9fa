package services

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clarencejohnson126/SnapPlanApp/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const detectorOK = `{"predictions":[{"x":50,"y":40,"width":20,"height":10,"confidence":0.8,"class":"door"}],"image":{"width":1000,"height":800}}`

func newTestDetector(url string) *HTTPDetector {
	d := NewHTTPDetector(HTTPDetectorConfig{BaseURL: url, APIKey: "k", Model: "plans/3", Timeout: 5 * time.Second})
	d.policy.InitialBackoff = time.Millisecond
	return d
}

func TestHTTPDetector_Detect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/plans/3", r.URL.Path)
		assert.Equal(t, "k", r.URL.Query().Get("api_key"))
		assert.Equal(t, "50", r.URL.Query().Get("confidence"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("jpeg")), string(body))
		_, _ = w.Write([]byte(detectorOK))
	}))
	defer srv.Close()

	resp, err := newTestDetector(srv.URL).Detect(context.Background(), DetectRequest{Image: []byte("jpeg"), Confidence: 0.5})
	require.NoError(t, err)
	assert.Equal(t, 1000.0, resp.ImageWidth)
	require.Len(t, resp.Detections, 1)
	d := resp.Detections[0]
	assert.Equal(t, "door", d.ClassName)
	assert.Equal(t, "plans/3", d.Model)
	assert.Equal(t, models.BBox{X: 40, Y: 35, Width: 20, Height: 10}, d.BBox)
}

func TestHTTPDetector_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(detectorOK))
	}))
	defer srv.Close()

	resp, err := newTestDetector(srv.URL).Detect(context.Background(), DetectRequest{Image: []byte("x")})
	require.NoError(t, err)
	assert.Len(t, resp.Detections, 1)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTPDetector_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestDetector(srv.URL).Detect(context.Background(), DetectRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, models.ErrExtractorUnavailable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDetector_RejectsResponseOutsideSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"predictions":[{"x":1,"y":1,"width":1,"height":1,"confidence":1.5,"class":"door"}]}`))
	}))
	defer srv.Close()

	_, err := newTestDetector(srv.URL).Detect(context.Background(), DetectRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, models.ErrExtractorUnavailable)
}

func TestHTTPDetector_NotConfigured(t *testing.T) {
	_, err := NewHTTPDetector(HTTPDetectorConfig{}).Detect(context.Background(), DetectRequest{Image: []byte("x")})
	assert.ErrorIs(t, err, models.ErrExtractorUnavailable)
}
