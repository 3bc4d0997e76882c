package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

// TransientError wraps a chain call failure that may succeed on retry, such
// as a timeout, rate limit, or upstream outage.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError wraps a chain call failure that will not succeed on retry,
// such as a malformed request or a range the node refuses to serve.
type PermanentError struct {
	Op  string
	Err error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// SyncError reports that a sync pass could not complete. Stored state is
// untouched; the next pass resumes from the committed cursor.
type SyncError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *SyncError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// permanentMarkers are substrings of node error messages that indicate the
// request itself is at fault and retrying cannot help.
var permanentMarkers = []string{
	"invalid argument",
	"method not found",
	"execution reverted",
	"block range",
	"query returned more than",
}

// classifyRPC sorts a raw RPC failure into the transient/permanent taxonomy.
// Caller cancellation passes through unwrapped; request deadline expiry is
// treated as transient.
func classifyRPC(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var alreadyTransient *TransientError
	var alreadyPermanent *PermanentError
	if errors.As(err, &alreadyTransient) || errors.As(err, &alreadyPermanent) {
		return err
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32700, -32600, -32601, -32602:
			return &PermanentError{Op: op, Err: err}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range permanentMarkers {
		if strings.Contains(msg, marker) {
			return &PermanentError{Op: op, Err: err}
		}
	}
	return &TransientError{Op: op, Err: err}
}
