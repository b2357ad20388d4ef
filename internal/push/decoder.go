package push

import (
	"encoding/json"
	"time"

	"orderpulse/internal/types"
)

// DecodeOrderNotice parses one inbound push frame into an OrderNotice.
//
// It is a pure function: no side effects, no retries. A malformed frame is a
// data-quality failure, not a transport failure; callers log and drop it
// without terminating the channel. receivedAt stamps when the frame was
// observed by this process.
func DecodeOrderNotice(raw []byte, receivedAt time.Time) (types.OrderNotice, error) {
	var payload types.OrderPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return types.OrderNotice{}, types.NewAppError(types.ErrCodeDecodeInvalidPayload,
			"push frame is not a valid order payload", err)
	}
	return payload.ToNotice(receivedAt)
}
