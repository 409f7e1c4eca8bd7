package isolation

import "errors"

// ErrRegistryClosed is returned when creating a context on a closed registry.
var ErrRegistryClosed = errors.New("isolation registry is closed")
