// Package escrow implements the transaction state machine for marketplace
// purchases: payment submission, admin verification, shipment, receipt
// confirmation, cancellation and disputes.
//
// Funds never move on the word of a single party. The buyer proves payment,
// an admin verifies it into escrow, the seller ships, and only the buyer's
// receipt confirmation (or an external auto-confirm sweep past the stored
// deadline) releases the payout.
package escrow

import (
	"context"
	"fmt"
	"time"

	uuid "github.com/satori/go.uuid"
	"github.com/shopspring/decimal"

	"github.com/optcgph/marketplace/escrow/model"
)

// Service wraps the escrow datastore with the role and precondition checks
// that gate every transition. Operations take the authenticated caller
// explicitly, there is no ambient session state.
type Service struct {
	Datastore Datastore
}

// InitService creates a service using the passed datastore
func InitService(datastore Datastore) (*Service, error) {
	return &Service{Datastore: datastore}, nil
}

// CreateTransactionRequest includes information needed to initiate a purchase.
type CreateTransactionRequest struct {
	ListingID      uuid.UUID `json:"listingId" valid:"-"`
	PaymentMethod  string    `json:"paymentMethod" valid:"required"`
	ShippingMethod *string   `json:"shippingMethod" valid:"-"`
	MeetupLocation *string   `json:"meetupLocation" valid:"-"`
}

// SubmitPaymentProofRequest includes the buyer's proof of payment.
type SubmitPaymentProofRequest struct {
	TransactionID    uuid.UUID `json:"transactionId" valid:"-"`
	PaymentProofURL  string    `json:"paymentProofUrl" valid:"required"`
	PaymentReference string    `json:"paymentReference" valid:"required"`
}

// VerifyPaymentRequest includes the admin's verification decision.
type VerifyPaymentRequest struct {
	TransactionID uuid.UUID `json:"transactionId" valid:"-"`
	Action        string    `json:"action" valid:"in(approve|reject)"`
	Notes         *string   `json:"notes" valid:"-"`
}

// SubmitShipmentRequest includes the seller's courier details.
type SubmitShipmentRequest struct {
	ShippingMethod    string  `json:"shippingMethod" valid:"required"`
	TrackingNumber    string  `json:"trackingNumber" valid:"required"`
	CourierReceiptURL *string `json:"courierReceiptUrl" valid:"-"`
}

// TransactionView is a transaction with its subsidiary records. Shipment is
// nil until the seller ships.
type TransactionView struct {
	Transaction *model.Transaction     `json:"transaction"`
	Escrow      *model.EscrowRecord    `json:"escrowRecord"`
	Shipment    *model.ShipmentDetails `json:"shipment"`
}

// CreateTransaction initiates a purchase of a listing by the caller: it
// computes the frozen money breakdown, inserts the ledger entry with its
// empty escrow record, reserves the listing and notifies the seller.
func (s *Service) CreateTransaction(ctx context.Context, caller model.Caller, req CreateTransactionRequest) (*model.Transaction, error) {
	if caller.Banned {
		return nil, model.ErrAccountSuspended
	}

	if !model.ValidPaymentMethod(req.PaymentMethod) {
		return nil, model.ErrInvalidPaymentMethod
	}

	listing, err := s.Datastore.GetListing(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}

	if listing.Status != model.ListingStatusActive {
		return nil, model.ErrListingUnavailable
	}

	if uuid.Equal(listing.SellerID, caller.ID) {
		return nil, model.ErrSelfPurchase
	}

	meetup := false
	if req.ShippingMethod != nil {
		m := *req.ShippingMethod
		if !model.ValidShippingMethod(m) {
			return nil, model.ErrInvalidShippingOption
		}

		if m == model.ShippingMethodMeetup {
			if !listing.AllowsMeetup {
				return nil, model.ErrMeetupNotAllowed
			}
			meetup = true
		} else if !model.Slice[string](listing.ShippingOptions).Contains(m) {
			return nil, model.ErrInvalidShippingOption
		}
	}

	shippingFee := listing.ShippingFee
	if meetup {
		shippingFee = decimal.Zero
	}

	amounts, err := model.ComputeAmounts(listing.Price, shippingFee)
	if err != nil {
		return nil, err
	}

	txnNew := &model.TransactionNew{
		ListingID:      listing.ID,
		BuyerID:        caller.ID,
		SellerID:       listing.SellerID,
		ItemPrice:      listing.Price,
		ShippingFee:    shippingFee,
		PlatformFee:    amounts.PlatformFee,
		TotalAmount:    amounts.TotalAmount,
		SellerPayout:   amounts.SellerPayout,
		PaymentMethod:  req.PaymentMethod,
		ShippingMethod: req.ShippingMethod,
		MeetupLocation: req.MeetupLocation,
		Status:         model.StatusPendingPayment,
	}

	notifs := []model.NotificationNew{{
		UserID:  listing.SellerID,
		Type:    model.NotificationNewOffer,
		Title:   "New Purchase Order",
		Message: fmt.Sprintf("Someone wants to buy your %s. Check your transactions.", listing.CardName),
		Link:    "/transactions",
	}}

	return s.Datastore.CreateTransaction(ctx, txnNew, notifs)
}

// SubmitPaymentProof records the buyer's payment proof and notifies the
// admins and the seller that a verification is waiting.
func (s *Service) SubmitPaymentProof(ctx context.Context, caller model.Caller, req SubmitPaymentProofRequest) (*model.Transaction, error) {
	txn, err := s.Datastore.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	if !txn.IsBuyer(caller.ID) {
		return nil, model.ErrForbidden
	}

	if txn.Status != model.StatusPendingPayment {
		return nil, model.ErrNotAwaitingPayment
	}

	adminIDs, err := s.Datastore.ListAdminIDs(ctx)
	if err != nil {
		return nil, err
	}

	notifs := make([]model.NotificationNew, 0, len(adminIDs)+1)
	for _, id := range adminIDs {
		notifs = append(notifs, model.NotificationNew{
			UserID:  id,
			Type:    model.NotificationPaymentReceived,
			Title:   "New Payment to Verify",
			Message: fmt.Sprintf("Transaction %s — buyer submitted payment proof. Please verify.", shortID(txn.ID)),
			Link:    "/admin/transactions/" + txn.ID.String(),
		})
	}
	notifs = append(notifs, model.NotificationNew{
		UserID:  txn.SellerID,
		Type:    model.NotificationPaymentReceived,
		Title:   "Buyer Submitted Payment",
		Message: "Buyer has submitted payment proof. Awaiting admin verification.",
		Link:    transactionLink(txn.ID),
	})

	return s.Datastore.SubmitPaymentProof(ctx, txn.ID, req.PaymentProofURL, req.PaymentReference, notifs)
}

// VerifyPayment applies the admin's verification decision. Approval is the
// only transition that moves money into escrow, rejection reverts the
// transaction so the buyer can resubmit. Re-invoking on an already resolved
// transaction fails rather than double-applying.
func (s *Service) VerifyPayment(ctx context.Context, caller model.Caller, req VerifyPaymentRequest) (*model.Transaction, error) {
	if !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}

	txn, err := s.Datastore.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, err
	}

	if txn.Status != model.StatusPaymentSubmitted {
		return nil, model.ErrNotAwaitingVerification
	}

	listing, err := s.Datastore.GetListing(ctx, txn.ListingID)
	if err != nil {
		return nil, err
	}

	if req.Action == "approve" {
		notifs := []model.NotificationNew{
			{
				UserID:  txn.BuyerID,
				Type:    model.NotificationPaymentVerified,
				Title:   "Payment Verified",
				Message: "Your payment has been verified and is now held in escrow. The seller will ship your item soon.",
				Link:    transactionLink(txn.ID),
			},
			{
				UserID:  txn.SellerID,
				Type:    model.NotificationPaymentVerified,
				Title:   "Payment Verified — Ship Now",
				Message: fmt.Sprintf("Buyer's payment for %s has been verified. Please ship the item.", listing.CardName),
				Link:    transactionLink(txn.ID),
			},
		}

		return s.Datastore.ApprovePayment(ctx, txn.ID, caller.ID, req.Notes, notifs)
	}

	reason := "Payment could not be verified"
	if req.Notes != nil && *req.Notes != "" {
		reason = *req.Notes
	}

	notifs := []model.NotificationNew{{
		UserID:  txn.BuyerID,
		Type:    model.NotificationSystemMessage,
		Title:   "Payment Proof Rejected",
		Message: fmt.Sprintf("Your payment proof could not be verified. Reason: %s. Please try again.", reason),
		Link:    transactionLink(txn.ID),
	}}

	return s.Datastore.RejectPayment(ctx, txn.ID, caller.ID, "Rejected: "+reason, notifs)
}

// SubmitShipment records the seller's shipment, stamps the auto-confirm
// deadline and notifies the buyer with the tracking details.
func (s *Service) SubmitShipment(ctx context.Context, caller model.Caller, txnID uuid.UUID, req SubmitShipmentRequest) (*model.Transaction, error) {
	txn, err := s.Datastore.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if !txn.IsSeller(caller.ID) {
		return nil, model.ErrForbidden
	}

	if txn.Status != model.StatusInEscrow {
		return nil, model.ErrPaymentNotVerified
	}

	autoConfirmAt := time.Now().UTC().AddDate(0, 0, model.AutoConfirmDays)

	notifs := []model.NotificationNew{{
		UserID:  txn.BuyerID,
		Type:    model.NotificationItemShipped,
		Title:   "Your order has been shipped!",
		Message: fmt.Sprintf("Tracking: %s via %s", req.TrackingNumber, req.ShippingMethod),
		Link:    transactionLink(txn.ID),
	}}

	ship := model.ShipmentNew{
		ShippingMethod:    req.ShippingMethod,
		TrackingNumber:    req.TrackingNumber,
		CourierReceiptURL: req.CourierReceiptURL,
	}

	return s.Datastore.CreateShipment(ctx, txn.ID, ship, autoConfirmAt, notifs)
}

// ConfirmReceipt completes the transaction on the buyer's confirmation,
// releasing the payout to the seller.
func (s *Service) ConfirmReceipt(ctx context.Context, caller model.Caller, txnID uuid.UUID) (*model.Transaction, error) {
	txn, err := s.Datastore.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if !txn.IsBuyer(caller.ID) {
		return nil, model.ErrForbidden
	}

	if txn.Status != model.StatusShipped && txn.Status != model.StatusDelivered {
		return nil, model.ErrNotYetShipped
	}

	listing, err := s.Datastore.GetListing(ctx, txn.ListingID)
	if err != nil {
		return nil, err
	}

	notifs := []model.NotificationNew{
		{
			UserID:  txn.SellerID,
			Type:    model.NotificationTransactionComplete,
			Title:   "Payment Released!",
			Message: fmt.Sprintf("Buyer confirmed receipt of %s. Funds will be released to your account.", listing.CardName),
			Link:    transactionLink(txn.ID),
		},
		{
			UserID:  txn.BuyerID,
			Type:    model.NotificationTransactionComplete,
			Title:   "Transaction Complete!",
			Message: "Please leave a review for the seller.",
			Link:    "/reviews/create?transaction=" + txn.ID.String(),
		},
	}

	return s.Datastore.CompleteTransaction(ctx, txn.ID, notifs)
}

// Cancel cancels a transaction before funds reach escrow and reactivates the
// listing. Buyer, seller and admins may cancel, nobody may once the payment
// is verified.
func (s *Service) Cancel(ctx context.Context, caller model.Caller, txnID uuid.UUID, reason string) (*model.Transaction, error) {
	txn, err := s.Datastore.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if !txn.IsParty(caller.ID) && !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}

	if txn.Status != model.StatusPendingPayment && txn.Status != model.StatusPaymentSubmitted {
		return nil, model.ErrTooLateToCancel
	}

	listing, err := s.Datastore.GetListing(ctx, txn.ListingID)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Transaction for %s was cancelled.", listing.CardName)

	var notifs []model.NotificationNew
	if txn.IsParty(caller.ID) {
		notifs = append(notifs, cancellationNotice(txn.OtherParty(caller.ID), txn.ID, message))
	} else {
		// admin cancellation, tell both parties
		notifs = append(notifs,
			cancellationNotice(txn.BuyerID, txn.ID, message),
			cancellationNotice(txn.SellerID, txn.ID, message),
		)
	}

	return s.Datastore.CancelTransaction(ctx, txn.ID, caller.ID, reason, notifs)
}

// Dispute parks the transaction for admin review and automatically opens a
// report against the counterparty. Only the transaction parties may file,
// and only after payment is verified.
func (s *Service) Dispute(ctx context.Context, caller model.Caller, txnID uuid.UUID, reason string) (*model.Transaction, error) {
	txn, err := s.Datastore.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if !txn.IsParty(caller.ID) {
		return nil, model.ErrForbidden
	}

	switch txn.Status {
	case model.StatusInEscrow, model.StatusShipped, model.StatusDelivered:
	default:
		return nil, model.ErrDisputeNotAllowed
	}

	other := txn.OtherParty(caller.ID)

	report := model.ReportNew{
		ReporterID:            caller.ID,
		ReportedUserID:        other,
		ReportedTransactionID: txn.ID,
		Reason:                "other",
		Description:           "Dispute: " + reason,
		Status:                "reviewing",
	}

	notifs := []model.NotificationNew{{
		UserID:  other,
		Type:    model.NotificationSystemMessage,
		Title:   "Dispute Filed",
		Message: "A dispute has been filed for your transaction. Our admin team will review.",
		Link:    transactionLink(txn.ID),
	}}

	return s.Datastore.DisputeTransaction(ctx, txn.ID, caller.ID, reason, report, notifs)
}

// GetTransaction returns the transaction with its subsidiary records. Only
// the parties and admins may view it.
func (s *Service) GetTransaction(ctx context.Context, caller model.Caller, txnID uuid.UUID) (*TransactionView, error) {
	txn, err := s.Datastore.GetTransaction(ctx, txnID)
	if err != nil {
		return nil, err
	}

	if !txn.IsParty(caller.ID) && !caller.IsAdmin() {
		return nil, model.ErrForbidden
	}

	rec, err := s.Datastore.GetEscrowRecord(ctx, txn.ID)
	if err != nil {
		return nil, err
	}

	view := &TransactionView{Transaction: txn, Escrow: rec}

	ship, err := s.Datastore.GetShipmentDetails(ctx, txn.ID)
	if err == nil {
		view.Shipment = ship
	} else if err != model.ErrShipmentNotFound {
		return nil, err
	}

	return view, nil
}

// ListTransactions returns a page of the caller's own transactions, optionally
// restricted to their buyer or seller side and to one status.
func (s *Service) ListTransactions(ctx context.Context, caller model.Caller, side, rawStatus string, page, perPage int) ([]model.Transaction, error) {
	var status *model.Status
	if rawStatus != "" {
		parsed, err := model.ParseStatus(rawStatus)
		if err != nil {
			return nil, err
		}
		status = &parsed
	}

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	return s.Datastore.ListTransactions(ctx, caller.ID, side, status, perPage, (page-1)*perPage)
}

// RunNextNotificationJob delivers one pending notification intent, returning
// true if a job was attempted.
func (s *Service) RunNextNotificationJob(ctx context.Context, worker NotificationWorker) (bool, error) {
	return s.Datastore.RunNextNotificationJob(ctx, worker)
}

func cancellationNotice(userID, txnID uuid.UUID, message string) model.NotificationNew {
	return model.NotificationNew{
		UserID:  userID,
		Type:    model.NotificationSystemMessage,
		Title:   "Transaction Cancelled",
		Message: message,
		Link:    transactionLink(txnID),
	}
}

func transactionLink(id uuid.UUID) string {
	return "/transactions/" + id.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
