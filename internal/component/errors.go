package component

import "errors"

var (
	ErrNotFound       = errors.New("component not found")
	ErrDuplicateID    = errors.New("duplicate component id")
	ErrInvalidParent  = errors.New("invalid parent")
	ErrCycle          = errors.New("move would create a cycle")
	ErrRootDeletion   = errors.New("root components cannot be deleted")
	ErrRootMove       = errors.New("root components cannot be moved")
	ErrUnknownType    = errors.New("unknown component type")
	ErrInvalidContent = errors.New("invalid content")
)
