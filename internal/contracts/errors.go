package contracts

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"nft-market-sync/internal/evm"
)

// ErrNonexistentToken is returned when a token read reverts because the id
// was never minted or has been burned.
var ErrNonexistentToken = errors.New("nonexistent token")

// RevertError is a contract call that reverted with a decodable reason.
type RevertError struct {
	Method string
	Reason string
	Err    error
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s reverted", e.Method)
	}
	return fmt.Sprintf("%s reverted: %s", e.Method, e.Reason)
}

func (e *RevertError) Unwrap() error {
	return e.Err
}

// nonexistentTokenSelector is the 4-byte id of ERC721NonexistentToken(uint256).
var nonexistentTokenSelector = TokenABI.Errors["ERC721NonexistentToken"].ID.Bytes()[:4]

// nonexistentMarkers are the revert strings OpenZeppelin ERC721 versions use
// for reads of ids without an owner.
var nonexistentMarkers = []string{
	"nonexistent token",
	"invalid token id",
	"owner query for nonexistent",
	"uri query for nonexistent",
}

// RevertReason extracts a human readable reason from ABI encoded revert data.
// It understands Error(string), Panic(uint256) and the ERC721 custom error.
func RevertReason(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	if bytes.Equal(data[:4], nonexistentTokenSelector) {
		return "ERC721NonexistentToken"
	}
	reason, err := abi.UnpackRevert(data)
	if err != nil {
		return ""
	}
	return reason
}

// ReasonFromError returns the revert reason carried by a node error, falling
// back to the message text when the revert data does not decode.
func ReasonFromError(err error) string {
	var rpcErr *evm.RPCError
	if !errors.As(err, &rpcErr) {
		return ""
	}
	if reason := RevertReason(rpcErr.RevertData()); reason != "" {
		return reason
	}
	msg := strings.TrimPrefix(rpcErr.Message, "execution reverted: ")
	if msg == "execution reverted" {
		return ""
	}
	return msg
}

// classifyCallError maps a failed eth_call onto the package error taxonomy.
func classifyCallError(method string, err error) error {
	if !evm.IsRevert(err) {
		return fmt.Errorf("%s: %w", method, err)
	}

	reason := ReasonFromError(err)
	if isNonexistentReason(reason) {
		return fmt.Errorf("%s: %w", method, ErrNonexistentToken)
	}
	return &RevertError{Method: method, Reason: reason, Err: err}
}

func isNonexistentReason(reason string) bool {
	lower := strings.ToLower(reason)
	if lower == "" {
		return false
	}
	if strings.Contains(lower, "erc721nonexistenttoken") {
		return true
	}
	for _, marker := range nonexistentMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
