package switcher

import (
	"github.com/pkg/errors"

	"chatlink/pkg/types"
)

var (
	ErrUnknownMode         = types.ErrUnknownMode
	ErrStrategyUnavailable = errors.New("switcher: no strategy configured for mode")
	ErrStartFailed         = errors.New("switcher: strategy failed to start")
	ErrShutdown            = errors.New("switcher: controller is shut down")
)

// StartError reports a strategy that could not start. It matches
// ErrStartFailed and unwraps to the strategy's own error.
type StartError struct {
	Mode types.TransportMode
	Err  error
}

func (e *StartError) Error() string {
	return ErrStartFailed.Error() + ": " + e.Mode.String() + ": " + e.Err.Error()
}

func (e *StartError) Unwrap() error { return e.Err }

func (e *StartError) Is(target error) bool { return target == ErrStartFailed }
