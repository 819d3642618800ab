package vault

import "errors"

var (
	// ErrUnauthorized covers malformed signatures, tampered payloads and non-authority signers alike
	ErrUnauthorized = errors.New("unauthorized")

	// ErrAlreadyUsed is returned when the authorization id is already in the consumption ledger
	ErrAlreadyUsed = errors.New("Authorization already used")

	// ErrInsufficientBalance is returned after the authorization was consumed; the id stays burned
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidAmount is returned for deposits that are not positive uint256 values and
	// for withdrawal amounts or nonces outside uint256
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidRecipient is returned for the zero recipient address
	ErrInvalidRecipient = errors.New("invalid recipient")

	// ErrTransferFailed is returned when the payout fails after consumption; the balance is
	// restored and the id stays consumed
	ErrTransferFailed = errors.New("transfer failed")

	// ErrTransferUnconfirmed is returned when the payout was submitted but its result is unknown;
	// the balance stays debited and the ledger records the transaction hash
	ErrTransferUnconfirmed = errors.New("transfer unconfirmed")

	// ErrStateMismatch is returned when the store belongs to a different vault or chain
	ErrStateMismatch = errors.New("persisted vault state does not match this vault")
)
