package manifest

import "errors"

// ErrInvalid is the sentinel wrapped by Validate failures; callers can
// test errors.Is(err, manifest.ErrInvalid).
var ErrInvalid = errors.New("invalid manifest")
