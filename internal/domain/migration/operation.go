package migration

import "fmt"

// ErrInvalidOperation indicates an unrecognized migration operation. A run
// rejected with this error has produced no side effects.
var ErrInvalidOperation = fmt.Errorf("invalid migration operation")

// ErrInvalidContext indicates an unrecognized invocation context.
var ErrInvalidContext = fmt.Errorf("invalid invocation context")

// Operation identifies the cryptographic transform applied to each user row.
// It is implemented as a value object using a string type to ensure type
// safety and exhaustive matching at the call sites.
type Operation string

const (
	// OperationEncrypt encrypts both identity fields under the current key.
	OperationEncrypt Operation = "encrypt"

	// OperationDecrypt decrypts both identity fields under the current key.
	OperationDecrypt Operation = "decrypt"

	// OperationChange decrypts both identity fields under the previous key
	// during a key rotation window. Re-encryption under the new key is a
	// separately triggered encrypt pass, never part of the same run.
	OperationChange Operation = "change"
)

// ParseOperation converts a raw string into an Operation, returning
// ErrInvalidOperation for anything outside the closed set.
func ParseOperation(s string) (Operation, error) {
	switch Operation(s) {
	case OperationEncrypt, OperationDecrypt, OperationChange:
		return Operation(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
	}
}

// Validate returns ErrInvalidOperation if the operation is outside the
// closed set.
func (o Operation) Validate() error {
	_, err := ParseOperation(string(o))
	return err
}

// SourceKey returns the key reference the operation reads stored values
// with. Change operates on ciphertext produced under the key being retired.
func (o Operation) SourceKey() KeyRef {
	if o == OperationChange {
		return KeyRefPrevious
	}
	return KeyRefCurrent
}

func (o Operation) String() string { return string(o) }

// InvocationContext captures why a migration was requested. It is
// independent of Operation: the operation says what transform to apply,
// the context says which finalization cleanup applies afterwards.
type InvocationContext string

const (
	// ContextNone is a plain migration with no post-run cleanup.
	ContextNone InvocationContext = "none"

	// ContextUninstall marks a migration run while the encryption feature is
	// being removed. Success widens the identity columns and restores the
	// supporting email index.
	ContextUninstall InvocationContext = "uninstall"

	// ContextChange marks a migration run as part of a key rotation. Success
	// retires the previous encryption profile and its key.
	ContextChange InvocationContext = "change"
)

// ParseContext converts a raw string into an InvocationContext, returning
// ErrInvalidContext for anything outside the closed set.
func ParseContext(s string) (InvocationContext, error) {
	switch InvocationContext(s) {
	case ContextNone, ContextUninstall, ContextChange:
		return InvocationContext(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContext, s)
	}
}

// Validate returns ErrInvalidContext if the context is outside the closed set.
func (c InvocationContext) Validate() error {
	_, err := ParseContext(string(c))
	return err
}

func (c InvocationContext) String() string { return string(c) }

// KeyRef names an encryption key slot held by the key repository. During a
// rotation window the current and previous references address distinct keys.
type KeyRef string

const (
	// KeyRefCurrent addresses the active encryption key.
	KeyRefCurrent KeyRef = "current"

	// KeyRefPrevious addresses the key being retired by a rotation.
	KeyRefPrevious KeyRef = "previous"
)
