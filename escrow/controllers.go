package escrow

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"
	"github.com/go-chi/chi"
	uuid "github.com/satori/go.uuid"

	"github.com/optcgph/marketplace/escrow/model"
	"github.com/optcgph/marketplace/handlers"
	"github.com/optcgph/marketplace/middleware"
	"github.com/optcgph/marketplace/requestutils"
)

// TransactionsRouter mounts the transaction endpoints on the passed service
func TransactionsRouter(service *Service) chi.Router {
	r := chi.NewRouter()

	r.Method("POST", "/", middleware.InstrumentHandler("CreateTransaction", CreateTransaction(service)))
	r.Method("GET", "/", middleware.InstrumentHandler("ListTransactions", ListTransactions(service)))
	r.Method("GET", "/{transactionID}", middleware.InstrumentHandler("GetTransaction", GetTransaction(service)))
	r.Method("POST", "/{transactionID}/cancel", middleware.InstrumentHandler("CancelTransaction", CancelTransaction(service)))
	r.Method("POST", "/{transactionID}/ship", middleware.InstrumentHandler("SubmitShipment", SubmitShipment(service)))
	r.Method("POST", "/{transactionID}/confirm", middleware.InstrumentHandler("ConfirmReceipt", ConfirmReceipt(service)))
	r.Method("POST", "/{transactionID}/dispute", middleware.InstrumentHandler("DisputeTransaction", DisputeTransaction(service)))

	return r
}

// EscrowRouter mounts the payment proof and verification endpoints
func EscrowRouter(service *Service) chi.Router {
	r := chi.NewRouter()

	r.Method("POST", "/submit", middleware.InstrumentHandler("SubmitPaymentProof", SubmitPaymentProof(service)))
	r.Method("POST", "/verify", middleware.InstrumentHandler("VerifyPayment", VerifyPayment(service)))

	return r
}

// CreateTransaction is the handler for initiating a purchase
func CreateTransaction(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		var req CreateTransactionRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.CreateTransaction(r.Context(), caller, req)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusCreated)
	})
}

// ListTransactions is the handler for listing the caller's transactions
func ListTransactions(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("page"))
		perPage, _ := strconv.Atoi(q.Get("perPage"))

		txns, err := service.ListTransactions(r.Context(), caller, q.Get("side"), q.Get("status"), page, perPage)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txns, w, http.StatusOK)
	})
}

// GetTransaction is the handler for fetching a single transaction with its
// escrow record and shipment details
func GetTransaction(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		txnID, appErr := transactionID(r)
		if appErr != nil {
			return appErr
		}

		view, err := service.GetTransaction(r.Context(), caller, txnID)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), view, w, http.StatusOK)
	})
}

type cancelRequest struct {
	Reason string `json:"reason" valid:"required,stringlength(5|500)"`
}

// CancelTransaction is the handler for cancelling before escrow
func CancelTransaction(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		txnID, appErr := transactionID(r)
		if appErr != nil {
			return appErr
		}

		var req cancelRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.Cancel(r.Context(), caller, txnID, req.Reason)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

// SubmitShipment is the handler for the seller's shipment submission
func SubmitShipment(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		txnID, appErr := transactionID(r)
		if appErr != nil {
			return appErr
		}

		var req SubmitShipmentRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.SubmitShipment(r.Context(), caller, txnID, req)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

// ConfirmReceipt is the handler for the buyer's receipt confirmation
func ConfirmReceipt(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		txnID, appErr := transactionID(r)
		if appErr != nil {
			return appErr
		}

		txn, err := service.ConfirmReceipt(r.Context(), caller, txnID)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

type disputeRequest struct {
	Reason string `json:"reason" valid:"required,stringlength(10|1000)"`
}

// DisputeTransaction is the handler for filing a dispute
func DisputeTransaction(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		txnID, appErr := transactionID(r)
		if appErr != nil {
			return appErr
		}

		var req disputeRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.Dispute(r.Context(), caller, txnID, req.Reason)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

// SubmitPaymentProof is the handler for the buyer's payment proof
func SubmitPaymentProof(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		var req SubmitPaymentProofRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.SubmitPaymentProof(r.Context(), caller, req)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

// VerifyPayment is the handler for the admin verification decision
func VerifyPayment(service *Service) handlers.AppHandler {
	return handlers.AppHandler(func(w http.ResponseWriter, r *http.Request) *handlers.AppError {
		caller, appErr := middleware.GetCaller(r)
		if appErr != nil {
			return appErr
		}

		var req VerifyPaymentRequest
		if err := requestutils.ReadJSON(r.Body, &req); err != nil {
			return handlers.WrapError(err, "Error in request body", http.StatusBadRequest)
		}

		if _, err := govalidator.ValidateStruct(req); err != nil {
			return handlers.WrapValidationError(err)
		}

		txn, err := service.VerifyPayment(r.Context(), caller, req)
		if err != nil {
			return transactionError(err)
		}

		return handlers.RenderContent(r.Context(), txn, w, http.StatusOK)
	})
}

func transactionID(r *http.Request) (uuid.UUID, *handlers.AppError) {
	raw := chi.URLParam(r, "transactionID")

	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, handlers.ValidationError("request url parameter", map[string]string{
			"transactionID": "transactionID must be a uuidv4",
		})
	}

	return id, nil
}

// transactionError maps domain errors onto http statuses
func transactionError(err error) *handlers.AppError {
	switch {
	case errors.Is(err, model.ErrTransactionNotFound),
		errors.Is(err, model.ErrListingNotFound),
		errors.Is(err, model.ErrEscrowRecordNotFound),
		errors.Is(err, model.ErrShipmentNotFound):
		return handlers.WrapError(err, err.Error(), http.StatusNotFound)

	case errors.Is(err, model.ErrForbidden),
		errors.Is(err, model.ErrAccountSuspended),
		errors.Is(err, model.ErrSelfPurchase):
		return handlers.WrapError(err, err.Error(), http.StatusForbidden)

	case errors.Is(err, model.ErrListingUnavailable),
		errors.Is(err, model.ErrDuplicateActiveTransaction),
		errors.Is(err, model.ErrInvalidState):
		return handlers.WrapError(err, err.Error(), http.StatusConflict)

	case errors.Is(err, model.ErrInvalidShippingOption),
		errors.Is(err, model.ErrMeetupNotAllowed),
		errors.Is(err, model.ErrInvalidPaymentMethod),
		errors.Is(err, model.ErrNotAwaitingPayment),
		errors.Is(err, model.ErrNotAwaitingVerification),
		errors.Is(err, model.ErrPaymentNotVerified),
		errors.Is(err, model.ErrNotYetShipped),
		errors.Is(err, model.ErrTooLateToCancel),
		errors.Is(err, model.ErrDisputeNotAllowed),
		errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrInvalidStatus):
		return handlers.WrapError(err, err.Error(), http.StatusBadRequest)

	default:
		return handlers.WrapError(err, "Error processing transaction", http.StatusInternalServerError)
	}
}
