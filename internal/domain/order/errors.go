package order

import (
	"fmt"

	"github.com/xenking/giftshop/internal/apperr"
)

// ErrSubmissionInProgress is returned when another submission for the same
// session is still running.
var ErrSubmissionInProgress = apperr.New(apperr.CodeSubmissionInProgress, "order submission already in progress")

// CapturedPaymentError reports a failure after the payment was captured. The
// payment reference must be surfaced so the charge can be reconciled; the
// session keeps it so a retry completes the same order without charging again.
type CapturedPaymentError struct {
	PaymentRef string
	OrderID    string
	Err        error
}

func (e *CapturedPaymentError) Error() string {
	return fmt.Sprintf("payment %s captured but order %s not completed: %v", e.PaymentRef, e.OrderID, e.Err)
}

func (e *CapturedPaymentError) Unwrap() error {
	return e.Err
}
