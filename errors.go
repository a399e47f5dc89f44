package hip

import "errors"

// ErrAlreadyEnabled is returned by Enable when the engine is already
// active. Calling Enable again does not mutate the profile directory.
var ErrAlreadyEnabled = errors.New("hip: already enabled")

type configError struct{ msg string }

func (e *configError) Error() string { return "hip: invalid config: " + e.msg }

func errConfig(msg string) error { return &configError{msg} }
