package dispatch

import (
	"context"
	"errors"
)

// ErrPermanent marks a delivery failure that retrying cannot fix, such as a
// recipient who blocked the bot.
var ErrPermanent = errors.New("permanent delivery failure")

// ErrNoAddress is returned by a transport when the recipient has no address
// on its channel.
var ErrNoAddress = Permanent(errors.New("recipient has no address for this transport"))

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() []error {
	return []error{ErrPermanent, e.err}
}

// Permanent wraps err so IsPermanent reports true. Any other error, including
// context deadlines, is treated as transient.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	return err != nil && errors.Is(err, ErrPermanent)
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
