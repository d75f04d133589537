package inference

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictSuccess(t *testing.T) {
	var gotPath, gotFileName, gotToken string
	var gotFile []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		gotFileName = hdr.Filename
		gotFile, err = io.ReadAll(file)
		require.NoError(t, err)
		gotToken = r.FormValue("idToken")

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"original_url":"https://cdn/o.png","enhanced_url":"https://cdn/e.png","result_url":"https://cdn/r.png"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	res, err := c.Predict(context.Background(), "reef.jpg", []byte("raw-bytes"), "tok-abc")
	require.NoError(t, err)

	assert.Equal(t, "/predict", gotPath)
	assert.Equal(t, "reef.jpg", gotFileName)
	assert.Equal(t, []byte("raw-bytes"), gotFile)
	assert.Equal(t, "tok-abc", gotToken)

	assert.Equal(t, "https://cdn/o.png", res.OriginalURL)
	assert.Equal(t, "https://cdn/e.png", res.EnhancedURL)
	assert.Equal(t, "https://cdn/r.png", res.ResultURL)
}

func TestPredictServerErrorWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":"model unavailable"}`))
	}))
	defer srv.Close()

	_, err := c(srv).Predict(context.Background(), "a.jpg", []byte("x"), "t")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusInternalServerError, se.Status)
	assert.Equal(t, "model unavailable", se.Message)
}

func TestPredictServerErrorUnparsableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("<html>nope</html>"))
	}))
	defer srv.Close()

	_, err := c(srv).Predict(context.Background(), "a.jpg", []byte("x"), "t")
	var se *ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "Server error: 502", se.Message)
}

func TestPredictMalformedSuccess(t *testing.T) {
	cases := map[string]string{
		"not json":    "success!",
		"missing url": `{"original_url":"o","enhanced_url":"e"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(body))
			}))
			defer srv.Close()

			_, err := c(srv).Predict(context.Background(), "a.jpg", []byte("x"), "t")
			var se *ServerError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, "inference service returned a malformed response", se.Message)
		})
	}
}

func TestPredictTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	_, err := c(srv).Predict(context.Background(), "a.jpg", []byte("x"), "t")
	var ne *NetworkError
	require.ErrorAs(t, err, &ne)
}

func c(srv *httptest.Server) *Client { return NewClient(srv.URL) }
