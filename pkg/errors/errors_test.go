package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		wantRetryable bool
		wantCode      string
	}{
		{
			name:          "missing status is a network failure",
			statusCode:    0,
			wantRetryable: true,
			wantCode:      CodeNetwork,
		},
		{
			name:          "401 unauthorized is retryable",
			statusCode:    401,
			wantRetryable: true,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "429 rate limited is retryable",
			statusCode:    429,
			wantRetryable: true,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "500 internal error is retryable",
			statusCode:    500,
			wantRetryable: true,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "503 unavailable is retryable",
			statusCode:    503,
			wantRetryable: true,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "400 bad request is permanent",
			statusCode:    400,
			wantRetryable: false,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "404 not found is permanent",
			statusCode:    404,
			wantRetryable: false,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "409 conflict is permanent",
			statusCode:    409,
			wantRetryable: false,
			wantCode:      CodeStoreStatus,
		},
		{
			name:          "422 unprocessable is permanent",
			statusCode:    422,
			wantRetryable: false,
			wantCode:      CodeStoreStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(tt.statusCode, nil)
			require.NotNil(t, err)
			assert.Equal(t, tt.wantRetryable, err.IsRetryable())
			assert.Equal(t, tt.wantCode, err.Code)
			if tt.statusCode != 0 {
				assert.Equal(t, tt.statusCode, err.StatusCode)
			}
		})
	}
}

func TestClassify_CarriesCause(t *testing.T) {
	cause := fmt.Errorf("connection refused")
	err := Classify(0, cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "transient classified error",
			err:  Transient(CodeLedger, "ledger down"),
			want: true,
		},
		{
			name: "permanent classified error",
			err:  Permanent(CodeInsufficientStock, "not enough stock"),
			want: false,
		},
		{
			name: "wrapped classified error keeps its verdict",
			err:  fmt.Errorf("sync failed: %w", Permanent(CodeMissingLinkage, "no product")),
			want: false,
		},
		{
			name: "unclassified error fails open toward retry",
			err:  fmt.Errorf("something unexpected"),
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(Permanent(CodeUnknownEvent, "no handler")))
	assert.False(t, IsPermanent(Transient(CodeNetwork, "timeout")))
	assert.False(t, IsPermanent(nil))
}

func TestStatusCodeAndCode(t *testing.T) {
	err := Classify(503, nil)
	wrapped := fmt.Errorf("store call: %w", err)

	assert.Equal(t, 503, StatusCode(wrapped))
	assert.Equal(t, CodeStoreStatus, Code(wrapped))

	assert.Equal(t, 0, StatusCode(fmt.Errorf("plain")))
	assert.Equal(t, "", Code(fmt.Errorf("plain")))
}

func TestWithCause(t *testing.T) {
	base := Transient(CodeReplicationLag, "record not visible")
	cause := fmt.Errorf("empty result set")

	err := base.WithCause(cause)

	assert.ErrorIs(t, err, cause)
	// WithCause must not mutate the original.
	assert.Nil(t, base.Cause)
	assert.True(t, err.IsRetryable())
}

func TestRecoverPanic(t *testing.T) {
	err := RecoverPanic("index out of range")

	assert.True(t, err.IsRetryable())
	assert.Equal(t, CodePanic, err.Code)
	assert.Contains(t, err.Error(), "index out of range")
}
