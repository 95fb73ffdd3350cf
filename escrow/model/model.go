// Package model provides data that the escrow service operates on.
package model

import (
	"time"

	"github.com/lib/pq"
	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"

	"github.com/optcgph/marketplace/datastore"
)

const (
	ErrTransactionNotFound        Error = "model: transaction not found"
	ErrListingNotFound            Error = "model: listing not found"
	ErrEscrowRecordNotFound       Error = "model: escrow record not found"
	ErrShipmentNotFound           Error = "model: shipment details not found"
	ErrForbidden                  Error = "model: caller may not perform this action"
	ErrInvalidState               Error = "model: transaction status changed, action no longer valid"
	ErrSelfPurchase               Error = "model: you cannot buy your own listing"
	ErrAccountSuspended           Error = "model: account suspended"
	ErrInvalidShippingOption      Error = "model: invalid shipping method for this listing"
	ErrMeetupNotAllowed           Error = "model: seller does not allow meetup"
	ErrInvalidPaymentMethod       Error = "model: invalid payment method"
	ErrListingUnavailable         Error = "model: listing is not active or already reserved"
	ErrDuplicateActiveTransaction Error = "model: listing already has an active transaction"
	ErrNotAwaitingPayment         Error = "model: transaction is not awaiting payment"
	ErrNotAwaitingVerification    Error = "model: transaction is not awaiting verification"
	ErrPaymentNotVerified         Error = "model: payment must be verified before shipping"
	ErrNotYetShipped              Error = "model: item must be shipped before confirming receipt"
	ErrTooLateToCancel            Error = "model: transaction cannot be cancelled at this stage"
	ErrDisputeNotAllowed          Error = "model: disputes can only be filed after payment is verified"
	ErrInvalidAmount              Error = "model: invalid amount"
	ErrInvalidStatus              Error = "model: invalid transaction status"
)

// Error is a domain error kind, comparable with errors.Is.
type Error string

func (e Error) Error() string {
	return string(e)
}

// Status* represent transaction statuses at runtime and in db.
//
// StatusInEscrow is the canonical "funds secured" status; the status string
// payment_verified is accepted as an alias on input because older records
// used both names for the same state.
const (
	StatusPendingPayment   Status = "pending_payment"
	StatusPaymentSubmitted Status = "payment_submitted"
	StatusInEscrow         Status = "in_escrow"
	StatusShipped          Status = "shipped"
	StatusDelivered        Status = "delivered"
	StatusCompleted        Status = "completed"
	StatusDisputed         Status = "disputed"
	StatusRefunded         Status = "refunded"
	StatusCancelled        Status = "cancelled"

	statusPaymentVerifiedAlias = "payment_verified"
)

// Status is a transaction lifecycle status.
type Status string

func (s Status) String() string {
	return string(s)
}

// ParseStatus canonicalizes a raw status string.
func ParseStatus(raw string) (Status, error) {
	if raw == statusPaymentVerifiedAlias {
		return StatusInEscrow, nil
	}

	s := Status(raw)
	if _, ok := transitions[s]; !ok {
		return "", ErrInvalidStatus
	}

	return s, nil
}

// transitions is the closed transition table: for each status, the statuses a
// transaction may move to next. Disputed has no outbound transitions because
// a resolution flow has not been defined yet.
var transitions = map[Status][]Status{
	StatusPendingPayment:   {StatusPaymentSubmitted, StatusCancelled},
	StatusPaymentSubmitted: {StatusInEscrow, StatusPendingPayment, StatusCancelled},
	StatusInEscrow:         {StatusShipped, StatusDisputed},
	StatusShipped:          {StatusDelivered, StatusCompleted, StatusDisputed},
	StatusDelivered:        {StatusCompleted, StatusDisputed},
	StatusCompleted:        nil,
	StatusDisputed:         nil,
	StatusRefunded:         nil,
	StatusCancelled:        nil,
}

// CanTransition reports whether the table permits moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transitions are expected. Disputed is
// not terminal, it is parked awaiting an admin decision.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsLive reports whether the transaction still holds the listing reservation.
func (s Status) IsLive() bool {
	return !s.IsTerminal()
}

// Role* are the account roles the identity provider hands us.
const (
	RoleUser   Role = "user"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// Role is an account role.
type Role string

// Caller is the authenticated account performing an operation. Operations
// always receive it explicitly, the service never reads ambient session state.
type Caller struct {
	ID     uuid.UUID
	Role   Role
	Banned bool
}

// IsAdmin reports whether the caller holds the admin role.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}

const (
	// FeeRateBasisPoints is the platform commission, 3%.
	FeeRateBasisPoints = 300

	// AutoConfirmDays is the number of days after shipment before an external
	// sweep may finalize the transaction without buyer action.
	AutoConfirmDays = 7
)

var (
	feeRate      = decimal.New(FeeRateBasisPoints, -4)
	minItemPrice = decimal.New(1, 0)
)

// Amounts is the money breakdown computed once at transaction creation and
// frozen thereafter.
type Amounts struct {
	PlatformFee  decimal.Decimal
	TotalAmount  decimal.Decimal
	SellerPayout decimal.Decimal
}

// ComputeAmounts computes the platform fee, the buyer's total charge and the
// seller's payout for a given item price and shipping fee.
//
// The fee rounds up at the cent so it is never under-collected. The result is
// deterministic for identical inputs, it is persisted and never recomputed.
func ComputeAmounts(itemPrice, shippingFee decimal.Decimal) (Amounts, error) {
	if itemPrice.LessThan(minItemPrice) || shippingFee.IsNegative() {
		return Amounts{}, ErrInvalidAmount
	}

	fee := itemPrice.Mul(feeRate).Shift(2).Ceil().Shift(-2)

	return Amounts{
		PlatformFee:  fee,
		TotalAmount:  itemPrice.Add(shippingFee),
		SellerPayout: itemPrice.Sub(fee).Add(shippingFee),
	}, nil
}

// ListingStatus* represent listing statuses in the catalog.
const (
	ListingStatusActive    = "active"
	ListingStatusReserved  = "reserved"
	ListingStatusSold      = "sold"
	ListingStatusCancelled = "cancelled"
	ListingStatusRemoved   = "removed"
)

// Listing is the catalog entry a transaction is purchasing. The escrow
// service only reads it and flips it between active and reserved.
type Listing struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	SellerID        uuid.UUID       `json:"sellerId" db:"seller_id"`
	CardName        string          `json:"cardName" db:"card_name"`
	Price           decimal.Decimal `json:"price" db:"price"`
	ShippingFee     decimal.Decimal `json:"shippingFee" db:"shipping_fee"`
	ShippingOptions pq.StringArray  `json:"shippingOptions" db:"shipping_options"`
	AllowsMeetup    bool            `json:"allowsMeetup" db:"allows_meetup"`
	Status          string          `json:"status" db:"status"`
	CreatedAt       time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt       time.Time       `json:"updatedAt" db:"updated_at"`
}

// Transaction is the ledger entry for a purchase. It is the root aggregate,
// EscrowRecord and ShipmentDetails cannot outlive it. Rows are never deleted,
// terminal transactions are retained for audit.
type Transaction struct {
	ID                 uuid.UUID            `json:"id" db:"id"`
	ListingID          uuid.UUID            `json:"listingId" db:"listing_id"`
	BuyerID            uuid.UUID            `json:"buyerId" db:"buyer_id"`
	SellerID           uuid.UUID            `json:"sellerId" db:"seller_id"`
	ItemPrice          decimal.Decimal      `json:"itemPrice" db:"item_price"`
	ShippingFee        decimal.Decimal      `json:"shippingFee" db:"shipping_fee"`
	PlatformFee        decimal.Decimal      `json:"platformFee" db:"platform_fee"`
	TotalAmount        decimal.Decimal      `json:"totalAmount" db:"total_amount"`
	SellerPayout       decimal.Decimal      `json:"sellerPayout" db:"seller_payout"`
	PaymentMethod      string               `json:"paymentMethod" db:"payment_method"`
	ShippingMethod     datastore.NullString `json:"shippingMethod" db:"shipping_method"`
	MeetupLocation     datastore.NullString `json:"meetupLocation" db:"meetup_location"`
	Status             Status               `json:"status" db:"status"`
	CancelledBy        *uuid.UUID           `json:"cancelledBy" db:"cancelled_by"`
	CancellationReason datastore.NullString `json:"cancellationReason" db:"cancellation_reason"`
	CancelledAt        *time.Time           `json:"cancelledAt" db:"cancelled_at"`
	DisputedBy         *uuid.UUID           `json:"disputedBy" db:"disputed_by"`
	DisputeReason      datastore.NullString `json:"disputeReason" db:"dispute_reason"`
	DisputedAt         *time.Time           `json:"disputedAt" db:"disputed_at"`
	DisputeResolution  datastore.NullString `json:"disputeResolution" db:"dispute_resolution"`
	AutoConfirmAt      *time.Time           `json:"autoConfirmAt" db:"auto_confirm_at"`
	CreatedAt          time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time            `json:"updatedAt" db:"updated_at"`
}

// IsBuyer reports whether id is the transaction's buyer.
func (t *Transaction) IsBuyer(id uuid.UUID) bool {
	return uuid.Equal(t.BuyerID, id)
}

// IsSeller reports whether id is the transaction's seller.
func (t *Transaction) IsSeller(id uuid.UUID) bool {
	return uuid.Equal(t.SellerID, id)
}

// IsParty reports whether id is the buyer or the seller.
func (t *Transaction) IsParty(id uuid.UUID) bool {
	return t.IsBuyer(id) || t.IsSeller(id)
}

// OtherParty returns the counterparty of id.
func (t *Transaction) OtherParty(id uuid.UUID) uuid.UUID {
	if t.IsBuyer(id) {
		return t.SellerID
	}
	return t.BuyerID
}

// TransactionNew is a request to insert a transaction row.
type TransactionNew struct {
	ListingID      uuid.UUID       `db:"listing_id"`
	BuyerID        uuid.UUID       `db:"buyer_id"`
	SellerID       uuid.UUID       `db:"seller_id"`
	ItemPrice      decimal.Decimal `db:"item_price"`
	ShippingFee    decimal.Decimal `db:"shipping_fee"`
	PlatformFee    decimal.Decimal `db:"platform_fee"`
	TotalAmount    decimal.Decimal `db:"total_amount"`
	SellerPayout   decimal.Decimal `db:"seller_payout"`
	PaymentMethod  string          `db:"payment_method"`
	ShippingMethod *string         `db:"shipping_method"`
	MeetupLocation *string         `db:"meetup_location"`
	Status         Status          `db:"status"`
}

// EscrowRecord is the audit subsidiary tracking payment proof submission and
// admin verification, owned 1:1 by a transaction and created empty with it.
type EscrowRecord struct {
	ID                 uuid.UUID            `json:"id" db:"id"`
	TransactionID      uuid.UUID            `json:"transactionId" db:"transaction_id"`
	PaymentProofURL    datastore.NullString `json:"paymentProofUrl" db:"payment_proof_url"`
	PaymentReference   datastore.NullString `json:"paymentReference" db:"payment_reference"`
	PaymentSubmittedAt *time.Time           `json:"paymentSubmittedAt" db:"payment_submitted_at"`
	VerifiedBy         *uuid.UUID           `json:"verifiedBy" db:"verified_by"`
	VerifiedAt         *time.Time           `json:"verifiedAt" db:"verified_at"`
	VerificationNotes  datastore.NullString `json:"verificationNotes" db:"verification_notes"`
	CreatedAt          time.Time            `json:"createdAt" db:"created_at"`
	UpdatedAt          time.Time            `json:"updatedAt" db:"updated_at"`
}

// ShipmentDetails records courier metadata, created exactly once when the
// seller ships and read-only thereafter.
type ShipmentDetails struct {
	ID                uuid.UUID            `json:"id" db:"id"`
	TransactionID     uuid.UUID            `json:"transactionId" db:"transaction_id"`
	ShippingMethod    string               `json:"shippingMethod" db:"shipping_method"`
	TrackingNumber    string               `json:"trackingNumber" db:"tracking_number"`
	CourierReceiptURL datastore.NullString `json:"courierReceiptUrl" db:"courier_receipt_url"`
	ShippedAt         time.Time            `json:"shippedAt" db:"shipped_at"`
	CreatedAt         time.Time            `json:"createdAt" db:"created_at"`
}

// ShipmentNew is a request to insert shipment details.
type ShipmentNew struct {
	ShippingMethod    string  `db:"shipping_method"`
	TrackingNumber    string  `db:"tracking_number"`
	CourierReceiptURL *string `db:"courier_receipt_url"`
}

// Notification* are the notification types emitted by transitions.
const (
	NotificationNewOffer            = "new_offer"
	NotificationPaymentReceived     = "payment_received"
	NotificationPaymentVerified     = "payment_verified"
	NotificationItemShipped         = "item_shipped"
	NotificationTransactionComplete = "transaction_complete"
	NotificationSystemMessage       = "system_message"
)

// NotificationNew is a notification intent. Intents are persisted in the same
// database transaction as the state change that caused them and delivered
// later by a worker, so delivery failures cannot affect transaction outcome.
type NotificationNew struct {
	UserID   uuid.UUID          `db:"user_id"`
	Type     string             `db:"type"`
	Title    string             `db:"title"`
	Message  string             `db:"message"`
	Link     string             `db:"link"`
	Metadata datastore.Metadata `db:"metadata"`
}

// Notification is a persisted notification intent.
type Notification struct {
	ID        uuid.UUID            `json:"id" db:"id"`
	UserID    uuid.UUID            `json:"userId" db:"user_id"`
	Type      string               `json:"type" db:"type"`
	Title     string               `json:"title" db:"title"`
	Message   string               `json:"message" db:"message"`
	Link       datastore.NullString `json:"link" db:"link"`
	Metadata   datastore.Metadata   `json:"metadata" db:"metadata"`
	Attempts   int                  `json:"-" db:"attempts"`
	RetryAfter *time.Time           `json:"-" db:"retry_after"`
	SentAt     *time.Time           `json:"sentAt" db:"sent_at"`
	CreatedAt  time.Time            `json:"createdAt" db:"created_at"`
}

// ReportNew is a request to open a report for admin review. Disputes open one
// automatically against the counterparty.
type ReportNew struct {
	ReporterID            uuid.UUID `db:"reporter_id"`
	ReportedUserID        uuid.UUID `db:"reported_user_id"`
	ReportedTransactionID uuid.UUID `db:"reported_transaction_id"`
	Reason                string    `db:"reason"`
	Description           string    `db:"description"`
	Status                string    `db:"status"`
}

// AdminActionNew is a request to record an admin action in the audit log.
type AdminActionNew struct {
	AdminID    uuid.UUID          `db:"admin_id"`
	Action     string             `db:"action"`
	TargetType string             `db:"target_type"`
	TargetID   uuid.UUID          `db:"target_id"`
	Details    datastore.Metadata `db:"details"`
}

// PaymentMethods lists the payment rails buyers can settle with.
var PaymentMethods = []string{"gcash", "maya", "bank_transfer", "cod_meetup"}

// ShippingMethods lists the couriers sellers can ship with, plus meetup.
var ShippingMethods = []string{"lbc", "jt_express", "flash_express", "grab_padala", "lalamove", "meetup"}

// ShippingMethodMeetup is the in-person handoff pseudo courier.
const ShippingMethodMeetup = "meetup"

// ValidPaymentMethod reports whether m is a known payment method.
func ValidPaymentMethod(m string) bool {
	return Slice[string](PaymentMethods).Contains(m)
}

// ValidShippingMethod reports whether m is a known shipping method.
func ValidShippingMethod(m string) bool {
	return Slice[string](ShippingMethods).Contains(m)
}

// Slice adds lookup helpers on top of a plain slice.
type Slice[T comparable] []T

// Contains reports whether target is an element of s.
func (s Slice[T]) Contains(target T) bool {
	for _, v := range s {
		if v == target {
			return true
		}
	}

	return false
}
