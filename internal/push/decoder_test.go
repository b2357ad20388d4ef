package push

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderpulse/internal/types"
)

func TestDecodeOrderNotice(t *testing.T) {
	received := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

	tests := []struct {
		name    string
		raw     string
		wantID  int64
		wantErr bool
	}{
		{
			name:   "valid frame",
			raw:    `{"id": 101, "product_name": "Walnut Shelf", "unit_price": "89.99", "created_at": "2026-03-14T09:29:12Z"}`,
			wantID: 101,
		},
		{
			name:   "numeric price accepted",
			raw:    `{"id": 102, "product_name": "Brass Hook", "unit_price": 4.25}`,
			wantID: 102,
		},
		{
			name:    "not json",
			raw:     `ping`,
			wantErr: true,
		},
		{
			name:    "json but wrong shape",
			raw:     `[1,2,3]`,
			wantErr: true,
		},
		{
			name:    "missing id",
			raw:     `{"product_name": "Walnut Shelf", "unit_price": "89.99"}`,
			wantErr: true,
		},
		{
			name:    "missing product name",
			raw:     `{"id": 103, "unit_price": "89.99"}`,
			wantErr: true,
		},
		{
			name:    "wrong type for id",
			raw:     `{"id": "abc", "product_name": "Walnut Shelf"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			notice, err := DecodeOrderNotice([]byte(tt.raw), received)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, types.ErrCodeDecodeInvalidPayload, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, notice.OrderID)
			assert.Equal(t, received, notice.ReceivedAt)
		})
	}
}
