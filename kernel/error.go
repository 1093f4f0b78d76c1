// Package kernel contains the types and helpers shared by every kernel
// sub-system.
package kernel

// Error describes a kernel error. Kernel errors are declared as package-level
// pointers to an Error value since the code that reports them runs before
// (or without) a Go allocator, which rules out errors.New and fmt.Errorf.
type Error struct {
	// The sub-system that reported the error.
	Module string

	// The error message.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
