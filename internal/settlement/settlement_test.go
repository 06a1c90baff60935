package settlement_test

import (
	"errors"
	"ms-raffle/internal/models"
	"ms-raffle/internal/settlement"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPayer struct {
	mock.Mock
}

func (m *MockPayer) Pay(recipient string, amount int64) error {
	args := m.Called(recipient, amount)
	return args.Error(0)
}

func TestWinnerIndex(t *testing.T) {
	assert.Equal(t, int64(3), settlement.WinnerIndex(7, 4))
	assert.Equal(t, int64(0), settlement.WinnerIndex(8, 4))
	assert.Equal(t, int64(0), settlement.WinnerIndex(0, 1))
	assert.Equal(t, int64(15), settlement.WinnerIndex(18446744073709551615, 100)) // max uint64

	// Same inputs, same index, every time.
	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(3), settlement.WinnerIndex(7, 4))
	}
}

func TestFeeAndPrizeConserveThePool(t *testing.T) {
	cases := []struct {
		pool   int64
		feeBps int64
		fee    int64
	}{
		{400, 250, 10},
		{10000, 250, 250},
		{10000, 1000, 1000},
		{10000, 0, 0},
		// Pools too small for the bps to bite truncate to zero fee.
		{39, 250, 0},
		{1, 1000, 0},
		{0, 250, 0},
		{999, 250, 24},
	}

	for _, tc := range cases {
		fee := settlement.Fee(tc.pool, tc.feeBps)
		prize := settlement.Prize(tc.pool, fee)
		assert.Equal(t, tc.fee, fee, "pool=%d bps=%d", tc.pool, tc.feeBps)
		assert.Equal(t, tc.pool, fee+prize, "fee+prize must equal pool for pool=%d", tc.pool)
	}
}

func TestNewEngineBounds(t *testing.T) {
	payer := new(MockPayer)

	_, err := settlement.NewEngine(-1, "0xFee", payer)
	assert.Error(t, err)

	_, err = settlement.NewEngine(1001, "0xFee", payer)
	assert.Error(t, err)

	_, err = settlement.NewEngine(0, "0xFee", payer)
	assert.NoError(t, err)

	_, err = settlement.NewEngine(1000, "0xFee", payer)
	assert.NoError(t, err)
}

func TestSettle(t *testing.T) {
	payer := new(MockPayer)
	engine, err := settlement.NewEngine(250, "0xFee", payer)
	require.NoError(t, err)

	raffle := &models.Raffle{ID: 1, Pool: 400}
	transfers, pay, fee, prize := engine.Settle(raffle, "0xWinner")

	assert.Equal(t, int64(10), fee)
	assert.Equal(t, int64(390), prize)
	require.Len(t, transfers, 2)
	assert.Equal(t, models.TransferPrize, transfers[0].Kind)
	assert.Equal(t, "0xWinner", transfers[0].Counterparty)
	assert.Equal(t, int64(390), transfers[0].Amount)
	assert.Equal(t, models.TransferFee, transfers[1].Kind)
	assert.Equal(t, int64(10), transfers[1].Amount)

	payer.On("Pay", "0xWinner", int64(390)).Return(nil)
	payer.On("Pay", "0xFee", int64(10)).Return(nil)

	assert.NoError(t, pay())
	payer.AssertExpectations(t)
}

func TestSettleSkipsZeroFeePayout(t *testing.T) {
	payer := new(MockPayer)
	engine, err := settlement.NewEngine(250, "0xFee", payer)
	require.NoError(t, err)

	// 39 * 250 / 10000 truncates to zero.
	raffle := &models.Raffle{ID: 1, Pool: 39}
	_, pay, fee, prize := engine.Settle(raffle, "0xWinner")

	assert.Equal(t, int64(0), fee)
	assert.Equal(t, int64(39), prize)

	payer.On("Pay", "0xWinner", int64(39)).Return(nil)

	assert.NoError(t, pay())
	payer.AssertNotCalled(t, "Pay", "0xFee", mock.Anything)
}

func TestSettlePayoutFailurePropagates(t *testing.T) {
	payer := new(MockPayer)
	engine, err := settlement.NewEngine(250, "0xFee", payer)
	require.NoError(t, err)

	raffle := &models.Raffle{ID: 1, Pool: 400}
	_, pay, _, _ := engine.Settle(raffle, "0xWinner")

	payer.On("Pay", "0xWinner", int64(390)).Return(errors.New("wallet unreachable"))

	assert.Error(t, pay())
	payer.AssertNotCalled(t, "Pay", "0xFee", mock.Anything)
}

func TestRefund(t *testing.T) {
	payer := new(MockPayer)
	engine, err := settlement.NewEngine(250, "0xFee", payer)
	require.NoError(t, err)

	raffle := &models.Raffle{ID: 1, EntryPrice: 100}
	claim, transfer, pay, amount := engine.Refund(raffle, "0xBuyer", 3)

	assert.Equal(t, int64(300), amount)
	assert.Equal(t, "0xBuyer", claim.Claimant)
	assert.Equal(t, int64(300), claim.Amount)
	assert.Equal(t, models.TransferRefund, transfer.Kind)
	assert.Equal(t, int64(300), transfer.Amount)

	payer.On("Pay", "0xBuyer", int64(300)).Return(nil)
	assert.NoError(t, pay())
	payer.AssertExpectations(t)
}
