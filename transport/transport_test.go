package transport

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTP_All(t *testing.T) {
	t.Run("Test empty url rejected", func(t *testing.T) {
		_, err := NewHTTP("")
		assert.Error(t, err)
	})

	t.Run("Test accepted delivery", func(t *testing.T) {
		var body []byte
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ = io.ReadAll(r.Body)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		tr, err := NewHTTP(srv.URL)
		assert.NoError(t, err)
		assert.True(t, tr.Deliver([]byte(`{"seq":1}`)))
		assert.JSONEq(t, `{"seq":1}`, string(body))
	})

	t.Run("Test server error refused", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		tr, _ := NewHTTP(srv.URL)
		assert.False(t, tr.Deliver([]byte(`{}`)))
	})

	t.Run("Test unreachable refused", func(t *testing.T) {
		tr, _ := NewHTTP("http://127.0.0.1:1/never")
		assert.False(t, tr.Deliver([]byte(`{}`)))
	})
}
