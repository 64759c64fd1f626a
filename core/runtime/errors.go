package runtime

import "errors"

var (
	ErrInvalidSignature   = errors.New("runtime: invalid signature")
	ErrNonceMismatch      = errors.New("runtime: nonce mismatch")
	ErrUnknownInstruction = errors.New("runtime: unknown instruction")
	ErrInvalidPayload     = errors.New("runtime: invalid instruction payload")
	errNilTransaction     = errors.New("runtime: nil transaction")
)
