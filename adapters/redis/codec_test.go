package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeValues(t *testing.T) {
	in := snapshot{ItemID: "item-1", BidID: "bid-7", Amount: 1200}

	values, err := EncodeValues(in)
	require.NoError(t, err)
	assert.Len(t, values, 1)
	assert.IsType(t, "", values[fieldPayload])

	out, err := DecodeValues[snapshot](values)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeValues_RejectsPointer(t *testing.T) {
	_, err := EncodeValues(&snapshot{})
	assert.ErrorIs(t, err, ErrPointerType)

	_, err = DecodeValues[*snapshot](map[string]any{})
	assert.ErrorIs(t, err, ErrPointerType)
}

func TestDecodeValues(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]any
		want    snapshot
		wantErr error
	}{
		{
			name:   "empty entry",
			values: map[string]any{},
		},
		{
			name:    "missing payload",
			values:  map[string]any{"data": "abc"},
			wantErr: ErrMissingPayload,
		},
		{
			name:    "payload with wrong type",
			values:  map[string]any{fieldPayload: 42},
			wantErr: ErrMissingPayload,
		},
		{
			name:   "invalid base64",
			values: map[string]any{fieldPayload: "%%%"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeValues[snapshot](tt.values)
			switch {
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			case tt.name == "invalid base64":
				assert.ErrorContains(t, err, "base64")
			default:
				assert.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestPublishedAt(t *testing.T) {
	assert.Equal(t, time.UnixMilli(1700000000123), PublishedAt("1700000000123-4"))
	assert.True(t, PublishedAt("not-an-id").IsZero())
	assert.True(t, PublishedAt("").IsZero())
}
