package mutation

import (
	"fmt"

	"nft-market-sync/internal/domain"
)

// TransactionRevertError reports a mutation the chain rejected, either at gas
// estimation (TxHash empty) or after inclusion.
type TransactionRevertError struct {
	Kind   domain.MutationKind
	TxHash string
	Reason string
}

func (e *TransactionRevertError) Error() string {
	msg := fmt.Sprintf("%s transaction reverted", e.Kind)
	if e.TxHash != "" {
		msg += " (" + e.TxHash + ")"
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
