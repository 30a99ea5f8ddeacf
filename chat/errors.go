package chat

import "fmt"

// PersistenceError means the message could not be stored. Nothing was pushed.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist message: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
