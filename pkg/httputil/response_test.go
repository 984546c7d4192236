package httputil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/registrygate/pkg/access"
)

func decodeMessage(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Message
}

func TestWriteDecision(t *testing.T) {
	tests := []struct {
		decision access.Decision
		status   int
		message  string
	}{
		{access.Unauthorized(access.ReasonCredentialInvalid), http.StatusUnauthorized, "401 Unauthorized"},
		{access.Forbidden(access.ReasonInsufficientRole), http.StatusForbidden, "403 Forbidden"},
		{access.Forbidden(access.ReasonPackageProtected), http.StatusForbidden, "403 Forbidden - Package protected."},
		{access.NotFound(access.ReasonResourceInvisible), http.StatusNotFound, "404 Not Found"},
	}

	for _, tt := range tests {
		t.Run(tt.decision.String(), func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteDecision(w, tt.decision)

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
			assert.Equal(t, tt.message, decodeMessage(t, w))
		})
	}
}

func TestWriteHelpers(t *testing.T) {
	t.Run("bad request", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteBadRequest(w, "name is missing")
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "400 Bad request - name is missing", decodeMessage(t, w))
	})

	t.Run("not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteNotFound(w, "Package")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "404 Package Not Found", decodeMessage(t, w))
	})

	t.Run("internal error hides cause", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteInternalError(w)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "500 Internal Server Error", decodeMessage(t, w))
	})

	t.Run("created", func(t *testing.T) {
		w := httptest.NewRecorder()
		require.NoError(t, WriteCreated(w, map[string]int{"id": 1}))
		assert.Equal(t, http.StatusCreated, w.Code)
		assert.JSONEq(t, `{"id":1}`, w.Body.String())
	})

	t.Run("no content", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteNoContent(w)
		assert.Equal(t, http.StatusNoContent, w.Code)
		assert.Empty(t, w.Body.String())
	})
}
