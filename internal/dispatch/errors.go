package dispatch

import "errors"

// ErrEngineClosed is returned by HandleInbound once Shutdown has started.
var ErrEngineClosed = errors.New("dispatch: engine closed")
