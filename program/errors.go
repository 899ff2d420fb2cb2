package program

import "errors"

var (
	ErrUnknownLabel          = errors.New("unknown label")
	ErrUnknownVariable       = errors.New("unknown variable")
	ErrUnknownTickVariable   = errors.New("unknown tick variable")
	ErrUnknownTemplateGroup  = errors.New("unknown template group")
	ErrDuplicateLabel        = errors.New("duplicate label")
	ErrTransportModeConflict = errors.New("transport mode conflict")
	ErrInvalidArgument       = errors.New("invalid argument")

	// errUnresolved means a symbolic reference survived Compile.
	errUnresolved = errors.New("unresolved symbolic reference")
)
