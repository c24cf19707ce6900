package restclient

import (
	"encoding/json"

	"bitfinex-trader/pkg/apperrors"
)

// bitfinex wraps every REST error body as a JSON array:
// ["error", <code>, "<message>"]. retryableCodes lists the exchange
// rejection codes this core treats as transient rather than fatal: rate
// limit pushback and the nonce-too-small family. Everything else
// 40xxx-shaped is a fatal rejection; "nonce: small" is additionally
// handled by the signed caller via NonceService.BumpTo before the retry.
var retryableCodes = map[int]bool{
	11010: true, // ERR_RATE_LIMIT
	10020: true, // ERR_NONCE_SMALL / "nonce: small"
}

func classifyExchangeError(body []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil || len(raw) < 3 {
		return &apperrors.ExchangeError{Code: 0, Message: string(body)}
	}

	var code int
	var message string
	_ = json.Unmarshal(raw[1], &code)
	_ = json.Unmarshal(raw[2], &message)

	return &apperrors.ExchangeError{Code: code, Message: message}
}

// IsRetryable reports whether an ExchangeError should be treated as
// transient (rate limit, nonce-too-small) rather than a fatal rejection.
func IsRetryable(err *apperrors.ExchangeError) bool {
	return retryableCodes[err.Code]
}
