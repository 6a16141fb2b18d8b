package evm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrMaxRetries is returned when a call still fails after all retry attempts.
var ErrMaxRetries = errors.New("max retries exceeded")

// RPCError is a JSON-RPC 2.0 error object returned by the node.
// Execution reverts carry the ABI encoded revert payload in Data.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// RevertData returns the revert payload attached to the error, if any.
func (e *RPCError) RevertData() []byte {
	s, ok := e.Data.(string)
	if !ok {
		return nil
	}
	b, err := hexutil.Decode(s)
	if err != nil {
		return nil
	}
	return b
}

// IsRevert reports whether err is an execution revert reported by the node.
func IsRevert(err error) bool {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return false
	}
	// geth reports reverts with code 3, other clients use -32000/-32015 with a message.
	return rpcErr.Code == 3 || rpcErr.RevertData() != nil || strings.Contains(rpcErr.Message, "revert")
}
