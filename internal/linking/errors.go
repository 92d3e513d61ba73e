package linking

import "errors"

var (
	ErrInvalidInput = errors.New("linking: invalid input")
	ErrNotFound     = errors.New("linking: not found")
	ErrForbidden    = errors.New("linking: forbidden")
	ErrConflict     = errors.New("linking: conflict")

	// errTokenHashTaken signals a stored-digest collision. Callers regenerate
	// the token; the error never reaches API consumers as a conflict.
	errTokenHashTaken = errors.New("linking: token hash already stored")
)
