package board

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConstraintViolation marks a rejected write caused by a foreign-key or uniqueness rule.
	ErrConstraintViolation = errors.New("board: constraint violation")
	// ErrStorageFailure marks an unexpected engine or I/O failure.
	ErrStorageFailure = errors.New("board: storage failure")
	// ErrNotFound marks a lookup for a missing or deleted row.
	ErrNotFound = errors.New("board: not found")

	errMissingWriter = errors.New("write database handle is required")
	errMissingReader = errors.New("read database handle is required")
)

const (
	opStoreNew      = "board.store.new"
	opCreateUser    = "board.create_user"
	opGetUser       = "board.get_user"
	opAddMessage    = "board.add_message"
	opGetMessage    = "board.get_message"
	opFindMessages  = "board.find_messages"
	opVote          = "board.vote"
	opDeleteMessage = "board.delete_message"

	reasonMissingWriter       = "missing_writer"
	reasonMissingReader       = "missing_reader"
	reasonGateWait            = "gate_wait_aborted"
	reasonInsertFailed        = "insert_failed"
	reasonUpsertFailed        = "upsert_failed"
	reasonUpdateFailed        = "update_failed"
	reasonQueryFailed         = "query_failed"
	reasonDecodeFailed        = "decode_failed"
	reasonConstraintViolation = "constraint_violation"
	reasonNotFound            = "not_found"
)

// StoreError carries a stable code of the form "operation.reason".
type StoreError struct {
	code string
	kind error
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

// Unwrap exposes both the error category and the underlying cause.
func (e *StoreError) Unwrap() []error {
	unwrapped := make([]error, 0, 2)
	if e.kind != nil {
		unwrapped = append(unwrapped, e.kind)
	}
	if e.err != nil {
		unwrapped = append(unwrapped, e.err)
	}
	return unwrapped
}

// Code returns the stable error code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, kind, cause error) error {
	return &StoreError{code: operation + "." + reason, kind: kind, err: cause}
}

// SQLite extended result codes.
const (
	sqliteConstraintForeignKey = 787
	sqliteConstraintUnique     = 2067
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintCheck      = 275
)

type sqliteCoder interface {
	Code() int
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var coded sqliteCoder
	if errors.As(err, &coded) {
		switch coded.Code() {
		case sqliteConstraintForeignKey, sqliteConstraintUnique, sqliteConstraintPrimaryKey, sqliteConstraintCheck:
			return true
		}
	}
	message := err.Error()
	return strings.Contains(message, "FOREIGN KEY constraint failed") ||
		strings.Contains(message, "UNIQUE constraint failed") ||
		strings.Contains(message, "CHECK constraint failed")
}
