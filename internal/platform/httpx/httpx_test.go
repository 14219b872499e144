package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondErrorMapsSentinels(t *testing.T) {
	cases := []struct {
		err    error
		status int
		detail string
	}{
		{fmt.Errorf("%w: filter", ErrValidation), http.StatusBadRequest, "validation failed: filter"},
		{ErrNotFound, http.StatusNotFound, "resource not found"},
		{fmt.Errorf("%w: busy", ErrConflict), http.StatusConflict, "conflict: busy"},
		{fmt.Errorf("%w: db down", ErrUpstream), http.StatusBadGateway, "upstream unavailable: db down"},
		{errors.New("secret"), http.StatusInternalServerError, ""},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		assert.Equal(t, tc.status, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

		var problem ProblemDetail
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
		assert.Equal(t, tc.status, problem.Status)
		assert.Equal(t, tc.detail, problem.Detail)
	}
}
