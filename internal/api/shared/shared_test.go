package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/phrazzld/personasim/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceIDRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))

	id := NewTraceID()
	assert.Len(t, id, 2*TraceIDLength)
	assert.NotEqual(t, id, NewTraceID())
	assert.Equal(t, id, GetTraceID(WithTraceID(ctx, id)))

	bad := context.WithValue(ctx, TraceIDKey, 123)
	assert.Empty(t, GetTraceID(bad))
}

func TestOwnerIDFromContext(t *testing.T) {
	t.Parallel()

	_, ok := OwnerIDFromContext(context.Background())
	assert.False(t, ok)

	_, ok = OwnerIDFromContext(WithOwnerID(context.Background(), uuid.Nil))
	assert.False(t, ok)

	owner := uuid.New()
	got, ok := OwnerIDFromContext(WithOwnerID(context.Background(), owner))
	require.True(t, ok)
	assert.Equal(t, owner, got)
}

type sample struct {
	Name string `json:"name" validate:"required,max=5"`
	Age  int    `json:"age"  validate:"gte=0"`
}

type checked struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (c checked) Validate() error {
	if c.Max < c.Min {
		return errors.New("max below min")
	}
	return nil
}

func TestDecodeJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{name: "valid", body: `{"name":"ann","age":3}`},
		{name: "syntax error", body: `{"name":"ann",}`, wantErr: true},
		{name: "unknown field", body: `{"name":"ann","extra":1}`, wantErr: true},
		{name: "trailing object", body: `{"name":"ann"}{"name":"bob"}`, wantErr: true},
		{name: "empty", body: ``, wantErr: true},
		{name: "too large", body: `{"name":"` + strings.Repeat("a", MaxRequestBodyBytes) + `"}`, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tc.body))
			var v sample
			err := DecodeJSON(httptest.NewRecorder(), r, &v)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ann", v.Name)
		})
	}

	var v sample
	err := DecodeJSON(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &v)
	assert.ErrorIs(t, err, ErrEmptyBody)
}

func TestValidateRequest(t *testing.T) {
	t.Parallel()

	assert.NoError(t, ValidateRequest(&sample{Name: "ann"}))
	assert.Error(t, ValidateRequest(&sample{}))
	assert.Error(t, ValidateRequest(&sample{Name: "too long"}))

	assert.NoError(t, ValidateRequest(checked{Min: 1, Max: 2}))
	assert.Error(t, ValidateRequest(checked{Min: 3, Max: 2}))
}

func TestRespondWithErrorAndLog(t *testing.T) {
	t.Parallel()

	buf, log := logger.NewTestLogger(t)
	ctx := logger.WithLogger(WithTraceID(context.Background(), "trace-1"), log)
	r := httptest.NewRequest(http.MethodGet, "/api/things", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Something went wrong",
		errors.New("dial postgres://admin:hunter2@db:5432 failed"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body ErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, "Something went wrong", body.Error)
	assert.Equal(t, "trace-1", body.TraceID)

	logger.AssertLogContains(t, buf, "API error response")
	logger.AssertLogNotContains(t, buf, "hunter2")
}
