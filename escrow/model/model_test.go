package model_test

import (
	"testing"

	"github.com/shopspring/decimal"
	should "github.com/stretchr/testify/assert"
	must "github.com/stretchr/testify/require"

	"github.com/optcgph/marketplace/escrow/model"
)

func TestComputeAmounts(t *testing.T) {
	type tcGiven struct {
		itemPrice   decimal.Decimal
		shippingFee decimal.Decimal
	}

	type tcExpected struct {
		fee    decimal.Decimal
		total  decimal.Decimal
		payout decimal.Decimal
		err    error
	}

	type testCase struct {
		name  string
		given tcGiven
		exp   tcExpected
	}

	tests := []testCase{
		{
			name: "typical_sale_with_shipping",
			given: tcGiven{
				itemPrice:   decimal.New(8500, 0),
				shippingFee: decimal.New(120, 0),
			},
			exp: tcExpected{
				fee:    decimal.New(255, 0),
				total:  decimal.New(8620, 0),
				payout: decimal.New(8365, 0),
			},
		},

		{
			name: "free_shipping",
			given: tcGiven{
				itemPrice:   decimal.New(1000, 0),
				shippingFee: decimal.Zero,
			},
			exp: tcExpected{
				fee:    decimal.New(30, 0),
				total:  decimal.New(1000, 0),
				payout: decimal.New(970, 0),
			},
		},

		{
			name: "fee_rounds_up_at_cents",
			given: tcGiven{
				// 3% of 33.33 is 0.9999, collected as 1.00
				itemPrice:   decimal.New(3333, -2),
				shippingFee: decimal.Zero,
			},
			exp: tcExpected{
				fee:    decimal.New(1, 0),
				total:  decimal.New(3333, -2),
				payout: decimal.New(3233, -2),
			},
		},

		{
			name: "fee_exact_at_cents_not_inflated",
			given: tcGiven{
				itemPrice:   decimal.New(100, 0),
				shippingFee: decimal.New(50, 0),
			},
			exp: tcExpected{
				fee:    decimal.New(3, 0),
				total:  decimal.New(150, 0),
				payout: decimal.New(147, 0),
			},
		},

		{
			name: "price_below_minimum",
			given: tcGiven{
				itemPrice:   decimal.New(5, -1),
				shippingFee: decimal.Zero,
			},
			exp: tcExpected{err: model.ErrInvalidAmount},
		},

		{
			name: "zero_price",
			given: tcGiven{
				itemPrice:   decimal.Zero,
				shippingFee: decimal.Zero,
			},
			exp: tcExpected{err: model.ErrInvalidAmount},
		},

		{
			name: "negative_shipping_fee",
			given: tcGiven{
				itemPrice:   decimal.New(100, 0),
				shippingFee: decimal.New(-1, 0),
			},
			exp: tcExpected{err: model.ErrInvalidAmount},
		},
	}

	for i := range tests {
		tc := tests[i]

		t.Run(tc.name, func(t *testing.T) {
			actual, err := model.ComputeAmounts(tc.given.itemPrice, tc.given.shippingFee)
			if tc.exp.err != nil {
				must.Equal(t, tc.exp.err, err)
				return
			}

			must.NoError(t, err)
			should.True(t, tc.exp.fee.Equal(actual.PlatformFee), "fee: want %s got %s", tc.exp.fee, actual.PlatformFee)
			should.True(t, tc.exp.total.Equal(actual.TotalAmount), "total: want %s got %s", tc.exp.total, actual.TotalAmount)
			should.True(t, tc.exp.payout.Equal(actual.SellerPayout), "payout: want %s got %s", tc.exp.payout, actual.SellerPayout)
		})
	}
}

func TestComputeAmounts_Deterministic(t *testing.T) {
	first, err := model.ComputeAmounts(decimal.New(123456, -2), decimal.New(75, 0))
	must.NoError(t, err)

	second, err := model.ComputeAmounts(decimal.New(123456, -2), decimal.New(75, 0))
	must.NoError(t, err)

	should.True(t, first.PlatformFee.Equal(second.PlatformFee))
	should.True(t, first.TotalAmount.Equal(second.TotalAmount))
	should.True(t, first.SellerPayout.Equal(second.SellerPayout))
}

func TestStatus_CanTransition(t *testing.T) {
	type tcGiven struct {
		from model.Status
		to   model.Status
	}

	type testCase struct {
		name  string
		given tcGiven
		exp   bool
	}

	tests := []testCase{
		{
			name:  "pending_to_submitted",
			given: tcGiven{model.StatusPendingPayment, model.StatusPaymentSubmitted},
			exp:   true,
		},

		{
			name:  "pending_to_cancelled",
			given: tcGiven{model.StatusPendingPayment, model.StatusCancelled},
			exp:   true,
		},

		{
			name:  "pending_skips_to_escrow",
			given: tcGiven{model.StatusPendingPayment, model.StatusInEscrow},
			exp:   false,
		},

		{
			name:  "submitted_rejected_back_to_pending",
			given: tcGiven{model.StatusPaymentSubmitted, model.StatusPendingPayment},
			exp:   true,
		},

		{
			name:  "escrow_to_shipped",
			given: tcGiven{model.StatusInEscrow, model.StatusShipped},
			exp:   true,
		},

		{
			name:  "escrow_cannot_cancel",
			given: tcGiven{model.StatusInEscrow, model.StatusCancelled},
			exp:   false,
		},

		{
			name:  "shipped_to_completed",
			given: tcGiven{model.StatusShipped, model.StatusCompleted},
			exp:   true,
		},

		{
			name:  "delivered_to_completed",
			given: tcGiven{model.StatusDelivered, model.StatusCompleted},
			exp:   true,
		},

		{
			name:  "shipped_to_disputed",
			given: tcGiven{model.StatusShipped, model.StatusDisputed},
			exp:   true,
		},

		{
			name:  "completed_is_final",
			given: tcGiven{model.StatusCompleted, model.StatusDisputed},
			exp:   false,
		},

		{
			name:  "disputed_has_no_outbound",
			given: tcGiven{model.StatusDisputed, model.StatusRefunded},
			exp:   false,
		},

		{
			name:  "cancelled_is_final",
			given: tcGiven{model.StatusCancelled, model.StatusPendingPayment},
			exp:   false,
		},
	}

	for i := range tests {
		tc := tests[i]

		t.Run(tc.name, func(t *testing.T) {
			should.Equal(t, tc.exp, tc.given.from.CanTransition(tc.given.to))
		})
	}
}

func TestParseStatus(t *testing.T) {
	type testCase struct {
		name  string
		given string
		exp   model.Status
		err   error
	}

	tests := []testCase{
		{
			name:  "canonical",
			given: "in_escrow",
			exp:   model.StatusInEscrow,
		},

		{
			name:  "payment_verified_alias",
			given: "payment_verified",
			exp:   model.StatusInEscrow,
		},

		{
			name:  "shipped",
			given: "shipped",
			exp:   model.StatusShipped,
		},

		{
			name:  "unknown",
			given: "on_hold",
			err:   model.ErrInvalidStatus,
		},

		{
			name:  "empty",
			given: "",
			err:   model.ErrInvalidStatus,
		},
	}

	for i := range tests {
		tc := tests[i]

		t.Run(tc.name, func(t *testing.T) {
			actual, err := model.ParseStatus(tc.given)
			if tc.err != nil {
				must.Equal(t, tc.err, err)
				return
			}

			must.NoError(t, err)
			should.Equal(t, tc.exp, actual)
		})
	}
}

func TestStatus_IsTerminal(t *testing.T) {
	should.True(t, model.StatusCompleted.IsTerminal())
	should.True(t, model.StatusCancelled.IsTerminal())
	should.True(t, model.StatusRefunded.IsTerminal())

	should.False(t, model.StatusDisputed.IsTerminal())
	should.False(t, model.StatusPendingPayment.IsTerminal())
	should.False(t, model.StatusShipped.IsTerminal())
	should.False(t, model.StatusDelivered.IsTerminal())
}
