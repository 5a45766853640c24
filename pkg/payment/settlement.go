package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SettlementRequest is everything a settlement handler receives: the
// session reference, the amount to capture, and the opaque credential.
// Nothing else from the session crosses this boundary.
type SettlementRequest struct {
	SessionID   string
	AmountMinor int64
	Currency    string
	Credential  Credential
}

// SettlementResult confirms a captured payment.
type SettlementResult struct {
	Reference string
}

// Settlement settles a payment through the provider behind a handler
// id. Implementations must honor ctx deadlines; the engine treats a
// timeout as a settlement failure, never as a pending outcome.
type Settlement interface {
	Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error)
}

// ErrDeclined is returned when the provider rejects the credential.
var ErrDeclined = errors.New("payment declined")

// MockSettlement simulates the demo PSP behind mock_tokenizer_001. It
// accepts TOKEN credentials minted by the mock tokenizer and declines
// everything else.
type MockSettlement struct {
	// Fail forces every settlement to fail with the given error.
	Fail error
	// Delay simulates provider latency before responding.
	Delay time.Duration
}

// Settle implements Settlement.
func (s *MockSettlement) Settle(ctx context.Context, req SettlementRequest) (SettlementResult, error) {
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return SettlementResult{}, ctx.Err()
		}
	}
	if s.Fail != nil {
		return SettlementResult{}, s.Fail
	}
	if req.Credential.Type != CredentialToken {
		return SettlementResult{}, fmt.Errorf("%w: unsupported credential type %s", ErrDeclined, req.Credential.Type)
	}
	if !strings.HasPrefix(req.Credential.Token, "tok_") {
		return SettlementResult{}, fmt.Errorf("%w: unrecognized token", ErrDeclined)
	}
	return SettlementResult{Reference: "stl_" + uuid.NewString()[:8]}, nil
}
