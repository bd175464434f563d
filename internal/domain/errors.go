package domain

import "errors"

// Ошибки жизненного цикла файла. Обработчики сопоставляют их с HTTP-статусами.
var (
	ErrNotFound      = errors.New("file does not exist or has expired")
	ErrForbidden     = errors.New("file requires the correct token")
	ErrIDUnavailable = errors.New("file id is not available")
	ErrValidation    = errors.New("invalid upload request")
	ErrUpstream      = errors.New("storage backend failure")
	ErrObjectMissing = errors.New("file does not exist in the bucket")
)
