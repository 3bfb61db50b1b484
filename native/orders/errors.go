package orders

import (
	"errors"
	"fmt"
	"strings"
)

// sentinel is an error that optionally refines a broader category so that
// errors.Is matches both the specific and the general condition.
type sentinel struct {
	msg    string
	parent error
}

func (s *sentinel) Error() string { return s.msg }
func (s *sentinel) Unwrap() error { return s.parent }

var (
	ErrInvalidArgument     = errors.New("orders: invalid argument")
	ErrUnauthorized        = errors.New("orders: unauthorized")
	ErrNotFound            = errors.New("orders: order not found")
	ErrInvalidState        = errors.New("orders: invalid state")
	ErrUnsupportedCurrency = errors.New("orders: unsupported currency")
	ErrPaymentMismatch     = errors.New("orders: payment mismatch")
	ErrTransferFailed      = errors.New("orders: transfer failed")
	ErrAlreadyPresent      = errors.New("orders: already present")
	ErrNotPresent          = errors.New("orders: not present")
	ErrSuspended           = errors.New("orders: system suspended")
	ErrRunning             = errors.New("orders: system running")

	ErrAlreadyAssigned      error = &sentinel{"orders: order already assigned", ErrInvalidState}
	ErrNotInProgress        error = &sentinel{"orders: order not in progress", ErrInvalidState}
	ErrCancelationForbidden error = &sentinel{"orders: cancelation forbidden", ErrInvalidState}

	ErrInsufficientPayment error = &sentinel{"orders: insufficient payment", ErrPaymentMismatch}
	ErrUnexpectedPayment   error = &sentinel{"orders: unexpected payment", ErrPaymentMismatch}

	ErrNativeCurrencyLocked error = &sentinel{"orders: native currency cannot be removed", ErrInvalidArgument}
)

// Error describes a failed precondition. It unwraps to one of the package
// sentinels.
type Error struct {
	Op      string
	OrderID uint64
	Field   string
	Got     string
	Want    string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("orders: ")
	b.WriteString(e.Op)
	if e.OrderID != 0 {
		fmt.Fprintf(&b, " order %d", e.OrderID)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, ": %s", e.Field)
		if e.Got != "" || e.Want != "" {
			fmt.Fprintf(&b, " got %q", e.Got)
			if e.Want != "" {
				fmt.Fprintf(&b, " want %q", e.Want)
			}
		}
	}
	if e.Err != nil {
		msg := strings.TrimPrefix(e.Err.Error(), "orders: ")
		fmt.Fprintf(&b, ": %s", msg)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func opError(op string, id uint64, err error) *Error {
	return &Error{Op: op, OrderID: id, Err: err}
}

func fieldError(op string, id uint64, field, got, want string, err error) *Error {
	return &Error{Op: op, OrderID: id, Field: field, Got: got, Want: want, Err: err}
}
