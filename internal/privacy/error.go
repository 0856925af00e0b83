package privacy

// SanitizedError carries an error whose message had national ids, URLs and
// credentials scrubbed. Unwrap still reaches the original for errors.Is and
// errors.As.
type SanitizedError struct {
	err error
	msg string
}

func (e *SanitizedError) Error() string { return e.msg }

func (e *SanitizedError) Unwrap() error { return e.err }

// WrapError returns err with a scrubbed message, or nil for a nil err.
// Notification providers wrap delivery errors with it before they reach
// logs, since shoutrrr echoes service URLs with tokens in its errors.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{err: err, msg: ScrubMessage(err.Error())}
}
