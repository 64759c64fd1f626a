package gateway

import "errors"

// Precondition violations.
var (
	ErrAlreadyPaid             = errors.New("gateway: payment already completed")
	ErrInvalidToken            = errors.New("gateway: token mint does not match")
	ErrPaymentAlreadyProcessed = errors.New("gateway: payment already processed")
	ErrInvalidAuthority        = errors.New("gateway: signer is not the merchant authority")
	ErrInvalidMerchant         = errors.New("gateway: intent does not belong to merchant")
	ErrInvalidPlatform         = errors.New("gateway: platform destination does not belong to the platform")
	ErrPlatformNotConfigured   = errors.New("gateway: no platform wallet configured to receive fees")
	ErrInvalidDestination      = errors.New("gateway: merchant destination does not belong to the merchant")
	ErrMerchantIDTooLong       = errors.New("gateway: merchant id too long")
	ErrPaymentIDTooLong        = errors.New("gateway: payment id too long")
	ErrMetadataTooLong         = errors.New("gateway: metadata too long")
	ErrEmptyID                 = errors.New("gateway: identifier must not be empty")
)

// ErrInvalidAmount reports overflow or underflow in fee or total arithmetic.
var ErrInvalidAmount = errors.New("gateway: invalid amount")

// Account constraint violations.
var (
	ErrAccountNotFound      = errors.New("gateway: account not found")
	ErrAccountOwner         = errors.New("gateway: account not owned by the gateway program")
	ErrAccountDiscriminator = errors.New("gateway: account type mismatch")
	ErrConstraintSeeds      = errors.New("gateway: account address does not match its seeds")
	ErrConstraintAssociated = errors.New("gateway: token account is not the associated account")
	errNilState             = errors.New("gateway engine: state not configured")
	errNilTokens            = errors.New("gateway engine: token capability not configured")
)
