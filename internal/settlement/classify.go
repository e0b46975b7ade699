package settlement

import "strings"

// FailureCode is the stable classification of a settlement error, persisted
// on the fill and surfaced to callers.
type FailureCode string

const (
	FailureInsufficientFunds FailureCode = "INSUFFICIENT_FUNDS"
	FailurePositionLimit     FailureCode = "POSITION_LIMIT"
	FailureMarketClosed      FailureCode = "MARKET_CLOSED"
	FailureInvalidSignature  FailureCode = "INVALID_SIGNATURE"
	FailureSelfTrade         FailureCode = "SELF_TRADE"
	FailureAccountNotFound   FailureCode = "ACCOUNT_NOT_FOUND"
	FailureMaxRetries        FailureCode = "MAX_RETRIES"
)

// permanentPatterns maps case-insensitive substrings of backend errors to
// failure codes. A match means retrying cannot succeed.
var permanentPatterns = []struct {
	substr string
	code   FailureCode
}{
	{"insufficient balance", FailureInsufficientFunds},
	{"insufficient funds", FailureInsufficientFunds},
	{"position limit", FailurePositionLimit},
	{"market closed", FailureMarketClosed},
	{"market is not open", FailureMarketClosed},
	{"invalid signature", FailureInvalidSignature},
	{"signature verification failed", FailureInvalidSignature},
	{"self trade", FailureSelfTrade},
	{"self-trade", FailureSelfTrade},
	{"account not found", FailureAccountNotFound},
	{"could not find account", FailureAccountNotFound},
}

// classify returns the permanent failure code for err, or "" when the error
// is transient and worth retrying.
func classify(err error) FailureCode {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())
	for _, p := range permanentPatterns {
		if strings.Contains(msg, p.substr) {
			return p.code
		}
	}
	return ""
}

// isAlreadySettled reports whether the backend says the work was done in an
// earlier attempt, which counts as success.
func isAlreadySettled(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "already settled")
}
