package qredit

import (
	"fmt"
)

var (
	ErrEncoding            = fmt.Errorf("transaction encoding failed")
	ErrSigning             = fmt.Errorf("transaction signing failed")
	ErrNoPeersAvailable    = fmt.Errorf("no peers available")
	ErrBroadcastRejected   = fmt.Errorf("broadcast failed because no nodes accepted transaction")
	ErrInvalidNetwork      = fmt.Errorf("invalid network")
	ErrInvalidConfig       = fmt.Errorf("invalid network config")
	ErrTransactionNotFound = fmt.Errorf("transaction not found")
	ErrRequestFailed       = fmt.Errorf("request failed")
	ErrRpcFailed           = fmt.Errorf("rpc failed")
	ErrInvalidArgument     = fmt.Errorf("invalid argument")
)

var AllErrors = []error{
	ErrEncoding,
	ErrSigning,
	ErrNoPeersAvailable,
	ErrBroadcastRejected,
	ErrInvalidNetwork,
	ErrInvalidConfig,
	ErrTransactionNotFound,
	ErrRequestFailed,
	ErrRpcFailed,
	ErrInvalidArgument,
}
