package settlement

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Result is the outcome of checking a reference against the network
type Result string

const (
	ResultConfirmed Result = "CONFIRMED"
	ResultPending   Result = "PENDING"
	ResultNotFound  Result = "NOT_FOUND"
	ResultMismatch  Result = "MISMATCH"
)

// Verification carries the result and a short explanation for mismatches
type Verification struct {
	Result Result
	Note   string
}

// Verifier checks that a reported reference settles the given instruction
type Verifier interface {
	Verify(ctx context.Context, reference string, expect TransferInstruction) (Verification, error)
}

// ChainReader is the subset of ethclient.Client used for verification
type ChainReader interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// EthVerifier verifies references on an EVM network
type EthVerifier struct {
	client        ChainReader
	assetDecimals int32
	tokenDecimals int32
}

// NewEthVerifier creates a verifier. Amounts are scaled by the given decimals before comparison.
func NewEthVerifier(client ChainReader, assetDecimals, tokenDecimals int32) *EthVerifier {
	return &EthVerifier{client: client, assetDecimals: assetDecimals, tokenDecimals: tokenDecimals}
}

// DialEthVerifier connects to an RPC endpoint and returns a verifier and its close function
func DialEthVerifier(ctx context.Context, rpcURL string, assetDecimals, tokenDecimals int32) (*EthVerifier, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial chain rpc: %w", err)
	}
	return NewEthVerifier(client, assetDecimals, tokenDecimals), client.Close, nil
}

func (v *EthVerifier) Verify(ctx context.Context, reference string, expect TransferInstruction) (Verification, error) {
	ref, err := ConfirmReference(reference)
	if err != nil {
		return Verification{}, err
	}
	hash := common.HexToHash(ref)

	tx, pending, err := v.client.TransactionByHash(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Verification{Result: ResultNotFound}, nil
	}
	if err != nil {
		return Verification{}, fmt.Errorf("fetch transaction: %w", err)
	}
	if pending {
		return Verification{Result: ResultPending}, nil
	}

	receipt, err := v.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return Verification{Result: ResultPending}, nil
	}
	if err != nil {
		return Verification{}, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return Verification{Result: ResultMismatch, Note: "transaction reverted"}, nil
	}

	destination := common.HexToAddress(expect.Destination)
	if expect.Asset == "" {
		return v.checkNative(tx, destination, expect), nil
	}
	return v.checkToken(receipt, destination, expect), nil
}

func (v *EthVerifier) checkNative(tx *types.Transaction, destination common.Address, expect TransferInstruction) Verification {
	if tx.To() == nil || *tx.To() != destination {
		return Verification{Result: ResultMismatch, Note: "recipient does not match destination"}
	}
	want := expect.Amount.Shift(v.assetDecimals).BigInt()
	if tx.Value().Cmp(want) < 0 {
		return Verification{Result: ResultMismatch, Note: fmt.Sprintf("value %s below expected %s", tx.Value(), want)}
	}
	return Verification{Result: ResultConfirmed}
}

func (v *EthVerifier) checkToken(receipt *types.Receipt, destination common.Address, expect TransferInstruction) Verification {
	token := common.HexToAddress(expect.Asset)
	want := expect.Amount.Shift(v.tokenDecimals).BigInt()
	for _, lg := range receipt.Logs {
		if lg.Address != token || len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		if !bytes.Equal(lg.Topics[2].Bytes()[12:], destination.Bytes()) {
			continue
		}
		if new(big.Int).SetBytes(lg.Data).Cmp(want) >= 0 {
			return Verification{Result: ResultConfirmed}
		}
	}
	return Verification{Result: ResultMismatch, Note: "no matching token transfer in receipt"}
}
