package service

import (
	"errors"
	"fmt"
)

// 失败阶段，调用方用 errors.Is 区分
var (
	ErrValidation              = errors.New("validation failed")
	ErrNotConnected            = errors.New("wallet not connected")
	ErrUnsupportedChain        = errors.New("contract not deployed on the active chain")
	ErrEncryption              = errors.New("encryption failed")
	ErrTransaction             = errors.New("transaction failed")
	ErrDecryptionAuthorization = errors.New("not authorized to decrypt")
	ErrDecryptionTransport     = errors.New("decryption request failed")
	ErrBusy                    = errors.New("operation already in progress")
)

// OpError 编排层失败
type OpError struct {
	Op   string
	Kind error
	Err  error
}

func (e *OpError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// Is 匹配失败阶段
func (e *OpError) Is(target error) bool {
	return e.Kind == target
}

func opError(op string, kind, err error) *OpError {
	return &OpError{Op: op, Kind: kind, Err: err}
}

func validationError(op, format string, args ...interface{}) *OpError {
	return opError(op, ErrValidation, fmt.Errorf(format, args...))
}

// Message 面向用户的提示
func Message(err error) string {
	var op *OpError
	if !errors.As(err, &op) {
		return err.Error()
	}
	switch op.Kind {
	case ErrValidation:
		return fmt.Sprintf("Invalid input: %v", op.Err)
	case ErrNotConnected:
		return "Please connect your wallet"
	case ErrUnsupportedChain:
		return "EncryptedLike is not deployed on this chain"
	case ErrEncryption:
		return fmt.Sprintf("Encryption failed: %v", op.Err)
	case ErrTransaction:
		return fmt.Sprintf("Transaction failed: %v", op.Err)
	case ErrDecryptionAuthorization:
		return fmt.Sprintf("Not allowed to decrypt: %v", op.Err)
	case ErrDecryptionTransport:
		return fmt.Sprintf("Decryption failed: %v", op.Err)
	case ErrBusy:
		return "Another operation is still in progress"
	default:
		return op.Error()
	}
}
