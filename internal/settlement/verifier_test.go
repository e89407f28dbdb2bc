package settlement

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockChainReader struct {
	mock.Mock
}

func (m *MockChainReader) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*types.Transaction), args.Bool(1), args.Error(2)
}

func (m *MockChainReader) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	args := m.Called(ctx, hash)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Receipt), args.Error(1)
}

var reference = "0x" + strings.Repeat("1f", 32)

func paymentInstruction(t *testing.T, amount int64) TransferInstruction {
	instr, err := BuildInstruction(KindPayment, dest, decimal.NewFromInt(amount), "pay-1")
	require.NoError(t, err)
	return instr
}

func nativeTx(to common.Address, wei *big.Int) *types.Transaction {
	return types.NewTx(&types.LegacyTx{Nonce: 1, To: &to, Value: wei, Gas: 21000, GasPrice: big.NewInt(1)})
}

func TestEthVerifier_NativeConfirmed(t *testing.T) {
	reader := new(MockChainReader)
	verifier := NewEthVerifier(reader, 2, 0)
	hash := common.HexToHash(reference)

	reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(common.HexToAddress(dest), big.NewInt(60000)), false, nil)
	reader.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)

	got, err := verifier.Verify(context.Background(), reference, paymentInstruction(t, 600))
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, got.Result)
	reader.AssertExpectations(t)
}

func TestEthVerifier_NativeMismatch(t *testing.T) {
	hash := common.HexToHash(reference)

	t.Run("WrongRecipient", func(t *testing.T) {
		reader := new(MockChainReader)
		reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(common.HexToAddress("0x01"), big.NewInt(600)), false, nil)
		reader.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)

		got, err := NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 600))
		require.NoError(t, err)
		assert.Equal(t, ResultMismatch, got.Result)
		assert.Contains(t, got.Note, "recipient")
	})

	t.Run("Underpaid", func(t *testing.T) {
		reader := new(MockChainReader)
		reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(common.HexToAddress(dest), big.NewInt(599)), false, nil)
		reader.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{Status: types.ReceiptStatusSuccessful}, nil)

		got, err := NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 600))
		require.NoError(t, err)
		assert.Equal(t, ResultMismatch, got.Result)
	})

	t.Run("Reverted", func(t *testing.T) {
		reader := new(MockChainReader)
		reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(common.HexToAddress(dest), big.NewInt(600)), false, nil)
		reader.On("TransactionReceipt", mock.Anything, hash).Return(&types.Receipt{Status: types.ReceiptStatusFailed}, nil)

		got, err := NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 600))
		require.NoError(t, err)
		assert.Equal(t, ResultMismatch, got.Result)
		assert.Equal(t, "transaction reverted", got.Note)
	})
}

func TestEthVerifier_NotFoundAndPending(t *testing.T) {
	hash := common.HexToHash(reference)

	reader := new(MockChainReader)
	reader.On("TransactionByHash", mock.Anything, hash).Return(nil, false, ethereum.NotFound).Once()
	got, err := NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 1))
	require.NoError(t, err)
	assert.Equal(t, ResultNotFound, got.Result)

	reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(common.HexToAddress(dest), big.NewInt(1)), true, nil).Once()
	got, err = NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 1))
	require.NoError(t, err)
	assert.Equal(t, ResultPending, got.Result)
}

func TestEthVerifier_RPCError(t *testing.T) {
	reader := new(MockChainReader)
	reader.On("TransactionByHash", mock.Anything, mock.Anything).Return(nil, false, errors.New("connection reset"))

	_, err := NewEthVerifier(reader, 0, 0).Verify(context.Background(), reference, paymentInstruction(t, 1))
	assert.ErrorContains(t, err, "connection reset")
}

func TestEthVerifier_InvalidReference(t *testing.T) {
	_, err := NewEthVerifier(new(MockChainReader), 0, 0).Verify(context.Background(), "0xabc", paymentInstruction(t, 1))
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestEthVerifier_TokenTransfer(t *testing.T) {
	hash := common.HexToHash(reference)
	token := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	to := common.HexToAddress(dest)

	instr, err := BuildInstruction(KindTokenTransfer, dest, decimal.NewFromInt(10), "tok-1")
	require.NoError(t, err)
	instr = instr.ForAsset(token.Hex())

	receipt := &types.Receipt{
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{{
			Address: token,
			Topics:  []common.Hash{transferTopic, common.BytesToHash(common.HexToAddress("0x02").Bytes()), common.BytesToHash(to.Bytes())},
			Data:    common.LeftPadBytes(big.NewInt(10).Bytes(), 32),
		}},
	}

	reader := new(MockChainReader)
	reader.On("TransactionByHash", mock.Anything, hash).Return(nativeTx(token, big.NewInt(0)), false, nil)
	reader.On("TransactionReceipt", mock.Anything, hash).Return(receipt, nil)

	got, err := NewEthVerifier(reader, 18, 0).Verify(context.Background(), reference, instr)
	require.NoError(t, err)
	assert.Equal(t, ResultConfirmed, got.Result)
}
