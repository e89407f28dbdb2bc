package settlement

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/irfndi/SimpleFund/internal/apierror"
	"github.com/shopspring/decimal"
)

// MaxTagLength bounds the correlation tag carried alongside a transfer
const MaxTagLength = 28

// Kind identifies what a transfer instruction settles
type Kind string

const (
	KindPayment        Kind = "PAYMENT"
	KindTokenTransfer  Kind = "TOKEN_TRANSFER"
	KindRefund         Kind = "REFUND"
	KindPoolDeposit    Kind = "POOL_DEPOSIT"
	KindPoolWithdrawal Kind = "POOL_WITHDRAWAL"
)

// Tag prefixes per instruction kind
const (
	PrefixPayment    = "pay-"
	PrefixToken      = "tok-"
	PrefixRefund     = "ref-"
	PrefixDeposit    = "dep-"
	PrefixWithdrawal = "wdr-"
)

var (
	ErrInvalidDestination = apierror.New(apierror.Unprocessable, "INVALID_DESTINATION", "settlement: destination is not a valid address")
	ErrInvalidAmount      = apierror.New(apierror.Invalid, "INVALID_AMOUNT", "settlement: amount must be positive")
	ErrInvalidReference   = apierror.New(apierror.Invalid, "INVALID_REFERENCE", "settlement: reference must be a 32-byte hex transaction hash")
	ErrUnknownKind        = apierror.New(apierror.Invalid, "INVALID_KIND", "settlement: unknown instruction kind")
)

// TransferInstruction describes a transfer for an external wallet to sign and submit.
// Asset is empty for the network's native asset.
type TransferInstruction struct {
	Kind           Kind            `json:"kind"`
	Destination    string          `json:"destination"`
	Amount         decimal.Decimal `json:"amount"`
	Asset          string          `json:"asset,omitempty"`
	CorrelationTag string          `json:"correlation_tag"`
}

// BuildInstruction validates its inputs and returns the instruction. It has no side effects.
func BuildInstruction(kind Kind, destination string, amount decimal.Decimal, correlationTag string) (TransferInstruction, error) {
	switch kind {
	case KindPayment, KindTokenTransfer, KindRefund, KindPoolDeposit, KindPoolWithdrawal:
	default:
		return TransferInstruction{}, ErrUnknownKind
	}
	if !common.IsHexAddress(destination) {
		return TransferInstruction{}, ErrInvalidDestination
	}
	if !amount.IsPositive() {
		return TransferInstruction{}, ErrInvalidAmount
	}
	return TransferInstruction{
		Kind:           kind,
		Destination:    common.HexToAddress(destination).Hex(),
		Amount:         amount,
		CorrelationTag: truncate(correlationTag),
	}, nil
}

// ForAsset returns a copy of the instruction denominated in the token at asset
func (t TransferInstruction) ForAsset(asset string) TransferInstruction {
	if common.IsHexAddress(asset) {
		t.Asset = common.HexToAddress(asset).Hex()
	}
	return t
}

// CorrelationTag derives a bounded tag from an identifier such as an order UUID
func CorrelationTag(prefix, id string) string {
	return truncate(prefix + strings.ReplaceAll(id, "-", ""))
}

// ConfirmReference validates a client-reported transaction reference and returns its
// canonical form. The reference is not checked against the network here.
func ConfirmReference(reference string) (string, error) {
	reference = strings.TrimSpace(reference)
	raw, err := hexutil.Decode(reference)
	if err != nil || len(raw) != common.HashLength {
		return "", ErrInvalidReference
	}
	return strings.ToLower(reference), nil
}

func truncate(tag string) string {
	if len(tag) > MaxTagLength {
		return tag[:MaxTagLength]
	}
	return tag
}
