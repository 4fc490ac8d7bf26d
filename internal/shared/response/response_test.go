package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mj-trademark/portal/internal/shared/errors"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var env map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	JSONMessage(rec, http.StatusCreated, map[string]string{"id": "c1"}, "案件を作成しました")

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"success":true,"data":{"id":"c1"},"message":"案件を作成しました"}`, rec.Body.String())
}

func TestErrorKeepsAppErrorStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/cases/x", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, errors.NotFound("case", "x").WithMessage("案件が見つかりません"))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	env := decodeEnvelope(t, rec)
	assert.Equal(t, false, env["success"])
	body := env["error"].(map[string]any)
	assert.Equal(t, "案件が見つかりません", body["message"])
	assert.Equal(t, "NOT_FOUND", body["code"])
	assert.NotNil(t, body["details"])
}

func TestErrorHidesInternalCause(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	Error(rec, req, stderrors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "password")
	body := decodeEnvelope(t, rec)["error"].(map[string]any)
	assert.Equal(t, "internal server error", body["message"])
	assert.Nil(t, body["details"])
}

func TestDecode(t *testing.T) {
	type payload struct {
		Title string `json:"title"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"valid", `{"title":"MJ"}`, ""},
		{"empty", ``, "request body is required"},
		{"malformed", `{"title":`, "request body must be valid JSON"},
		{"too large", `{"title":"` + strings.Repeat("a", maxBodyBytes) + `"}`, "request body too large"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()

			var p payload
			err := Decode(rec, req, &p)
			if tt.wantErr == "" {
				require.NoError(t, err)
				assert.Equal(t, "MJ", p.Title)
				return
			}
			appErr, ok := errors.As(err)
			require.True(t, ok)
			assert.True(t, errors.Is(err, errors.ErrBadRequest))
			assert.Equal(t, tt.wantErr, appErr.Message)
			assert.Equal(t, "BAD_REQUEST", appErr.Code)
			assert.Equal(t, http.StatusBadRequest, appErr.HTTPStatus)
		})
	}
}
