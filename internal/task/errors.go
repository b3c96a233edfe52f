package task

import "errors"

var (
	ErrSiteNotSupported   = errors.New("site not supported")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrInvalidRequest     = errors.New("invalid request")
)
