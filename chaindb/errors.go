package chaindb

import (
	"errors"
	"fmt"
)

// errors.go provides the error types for the chaindb package
//
// error type checking:
//   sentinel errors can be checked with errors.Is(err, ErrType)
//   round trip failures can be inspected with errors.As(err, &operationError)

// used for connect
var (
	ErrEmptyAuthToken = errors.New("server returned an empty auth token")
	ErrTokenNotJwt    = errors.New("auth token is not a jwt")
)

// used for tables and docs
var (
	ErrInvalidCriteria = errors.New("invalid criteria")
	ErrDocNotFound     = errors.New("document not found")
)

// used for the database
var (
	ErrNotConnected = errors.New("not connected")
)

// used for events
var (
	ErrEventsClosed = errors.New("event channel closed")
)

// ConnectionError is returned when connect fails, either because the server
// rejected the credentials or because the round trip itself failed.
type ConnectionError struct {
	// the server message, if the server answered
	Message string
	Err     error
}

func (self *ConnectionError) Error() string {
	switch {
	case self.Message != "" && self.Err != nil:
		return fmt.Sprintf("chaindb connect: %s: %s", self.Message, self.Err)
	case self.Message != "":
		return fmt.Sprintf("chaindb connect: %s", self.Message)
	case self.Err != nil:
		return fmt.Sprintf("chaindb connect: %s", self.Err)
	default:
		return "chaindb connect: failed"
	}
}

func (self *ConnectionError) Unwrap() error {
	return self.Err
}

// OperationError is returned by any table or doc round trip that fails.
type OperationError struct {
	Op    string
	Table string
	// the server message, if the server answered with success=false
	Message string
	Err     error
}

func (self *OperationError) Error() string {
	tag := self.Op
	if self.Table != "" {
		tag = fmt.Sprintf("%s %s", self.Op, self.Table)
	}
	switch {
	case self.Message != "" && self.Err != nil:
		return fmt.Sprintf("chaindb %s: %s: %s", tag, self.Message, self.Err)
	case self.Message != "":
		return fmt.Sprintf("chaindb %s: %s", tag, self.Message)
	case self.Err != nil:
		return fmt.Sprintf("chaindb %s: %s", tag, self.Err)
	default:
		return fmt.Sprintf("chaindb %s: failed", tag)
	}
}

func (self *OperationError) Unwrap() error {
	return self.Err
}

// serverError is the failure reported by a response envelope with success=false
type serverError struct {
	message string
}

func (self *serverError) Error() string {
	if self.message == "" {
		return "server reported failure"
	}
	return self.message
}

func operationError(op string, table string, err error) error {
	if err == nil {
		return nil
	}
	var s *serverError
	if errors.As(err, &s) {
		return &OperationError{
			Op:      op,
			Table:   table,
			Message: s.message,
		}
	}
	return &OperationError{
		Op:    op,
		Table: table,
		Err:   err,
	}
}
