package invoicesvc

import "errors"

// ErrNotFound reports a missing invoice/emitter/customer record.
var ErrNotFound = errors.New("record not found")

// PreconditionError reports an invalid transition request (cancel after
// submission, resend before authorization). The invoice state is untouched.
type PreconditionError struct {
	Msg string
}

func (e *PreconditionError) Error() string { return e.Msg }
