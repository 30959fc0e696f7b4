package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	t.Run("writes JSON with correct content type", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()
		data := map[string]string{"foo": "bar"}

		WriteJSON(rec, http.StatusOK, data)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var result map[string]string
		err := json.Unmarshal(rec.Body.Bytes(), &result)
		require.NoError(t, err)
		assert.Equal(t, "bar", result["foo"])
	})

	t.Run("handles nil data", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteJSON(rec, http.StatusAccepted, nil)

		assert.Equal(t, http.StatusAccepted, rec.Code)
		assert.Empty(t, rec.Body.String())
	})
}

func TestWriteError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusServiceUnavailable, "backend_unavailable", "no reply within 5s")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var result map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, "backend_unavailable", result["error"])
	assert.Equal(t, "no reply within 5s", result["message"])
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	t.Run("sets length etag", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteText(rec, http.StatusOK, []byte("Storing activated"))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
		assert.Equal(t, `"17"`, rec.Header().Get("ETag"))
		assert.Equal(t, "Storing activated", rec.Body.String())
	})

	t.Run("empty body", func(t *testing.T) {
		t.Parallel()
		rec := httptest.NewRecorder()

		WriteText(rec, http.StatusNoContent, nil)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, `"0"`, rec.Header().Get("ETag"))
		assert.Empty(t, rec.Body.String())
	})
}

func TestWriteMethodNotAllowed(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteMethodNotAllowed(rec, http.MethodGet, http.MethodPost)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "GET, POST", rec.Header().Get("Allow"))
}

func TestWriteNoContent(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	WriteNoContent(rec)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}
