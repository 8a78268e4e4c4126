package escrow

import "errors"

// Engine precondition failures. Every operation validates before it
// mutates; any of these means state is unchanged.
var (
	// ErrNotAProvider signals the caller is not registered as a provider.
	ErrNotAProvider = errors.New("escrow: caller is not a provider")
	// ErrInvalidPrice signals a non-positive offer price.
	ErrInvalidPrice = errors.New("escrow: price must be positive")
	// ErrOfferNotOpen signals an acceptance attempt on a non-open offer.
	ErrOfferNotOpen = errors.New("escrow: offer is not open")
	// ErrOfferNotAccepted signals a delivery confirmation on a non-accepted offer.
	ErrOfferNotAccepted = errors.New("escrow: offer is not accepted")
	// ErrSelfDealing signals a provider accepting their own offer.
	ErrSelfDealing = errors.New("escrow: provider cannot accept own offer")
	// ErrIncorrectPayment signals the payment does not equal price plus fee.
	ErrIncorrectPayment = errors.New("escrow: payment must equal price plus fee")
	// ErrNotTheClient signals the caller is not the offer's client.
	ErrNotTheClient = errors.New("escrow: caller is not the offer client")
	// ErrNothingToWithdraw signals a withdrawal with a zero balance.
	ErrNothingToWithdraw = errors.New("escrow: nothing to withdraw")
	// ErrNotOperator signals a platform-fee withdrawal by a non-operator.
	ErrNotOperator = errors.New("escrow: caller is not the operator")
	// ErrTransferFailed signals the external value transfer did not
	// complete. The surrounding transaction rolls back, so any debit
	// taken before the transfer is restored.
	ErrTransferFailed = errors.New("escrow: transfer failed")
)
