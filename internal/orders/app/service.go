package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
	"github.com/velvette/checkout/internal/orders/recon"
)

// ErrPaymentNotSettled is returned by VerifyPayment when the gateway reports
// the payment as neither captured nor failed yet.
var ErrPaymentNotSettled = errors.New("payment is not settled yet")

// ReconcileHandler is the mutation surface the service delegates to. The
// observable decorator wraps it.
type ReconcileHandler interface {
	ProcessEvent(ctx context.Context, orderID string, kind recon.EventKind, sig recon.PaymentSignal) (*domain.Order, Outcome, error)
	Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error)
}

// Service bundles the use cases exposed over HTTP: checkout, the two
// reconciliation channels, cancellation, and reads.
type Service struct {
	repo     ports.OrderRepository
	gateway  ports.PaymentGateway
	verifier ports.SignatureVerifier
	handler  ReconcileHandler
	logger   *slog.Logger
}

// NewService wires required dependencies.
func NewService(
	repo ports.OrderRepository,
	gateway ports.PaymentGateway,
	verifier ports.SignatureVerifier,
	handler ReconcileHandler,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:     repo,
		gateway:  gateway,
		verifier: verifier,
		handler:  handler,
		logger:   logger,
	}
}

// CheckoutInput captures the payload for creating an order.
type CheckoutInput struct {
	UserID    string            `json:"user_id"`
	LineItems []domain.LineItem `json:"line_items"`
	Currency  string            `json:"currency"`
}

// Checkout creates the order aggregate and its gateway counterpart. The
// order starts PENDING/UNPAID and is mutated only by reconciliation from
// here on.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (*domain.Order, error) {
	orderID, err := generateOrderID()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	order := domain.Order{
		ID:        orderID,
		UserID:    input.UserID,
		LineItems: input.LineItems,
		Status:    domain.StatusPending,
		Payment: domain.Payment{
			Status:    domain.PaymentUnpaid,
			ReceiptID: uuid.NewString(),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.Payment.Amount = order.Amount()

	if err := order.Validate(); err != nil {
		return nil, err
	}

	currency := input.Currency
	if currency == "" {
		currency = "INR"
	}

	gatewayOrderID, err := s.gateway.CreateOrder(ctx, order.Payment.Amount, currency,
		order.Payment.ReceiptID, map[string]string{"order_id": order.ID})
	if err != nil {
		return nil, fmt.Errorf("create gateway order: %w", err)
	}
	order.Payment.GatewayOrderID = gatewayOrderID

	if err := s.repo.Create(ctx, order); err != nil {
		return nil, err
	}

	return &order, nil
}

// VerifyPaymentInput is the client-initiated synchronous verification payload.
type VerifyPaymentInput struct {
	OrderID          string `json:"order_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

func (in VerifyPaymentInput) Validate() error {
	if strings.TrimSpace(in.OrderID) == "" {
		return errors.New("order_id is required")
	}
	if strings.TrimSpace(in.GatewayOrderID) == "" || strings.TrimSpace(in.GatewayPaymentID) == "" {
		return errors.New("gateway order and payment ids are required")
	}
	if strings.TrimSpace(in.Signature) == "" {
		return errors.New("signature is required")
	}
	return nil
}

// VerifyPayment authenticates the client-delivered signature, fetches the
// authoritative payment entity from the gateway, and reconciles it.
func (s *Service) VerifyPayment(ctx context.Context, input VerifyPaymentInput) (*domain.Order, Outcome, error) {
	if err := input.Validate(); err != nil {
		return nil, "", err
	}

	if err := s.verifier.VerifyPayment(input.GatewayOrderID, input.GatewayPaymentID, input.Signature); err != nil {
		return nil, "", err
	}

	entity, err := s.gateway.FetchPayment(ctx, input.GatewayPaymentID)
	if err != nil {
		return nil, "", fmt.Errorf("fetch payment %s: %w", input.GatewayPaymentID, err)
	}

	kind, ok := kindFromEntity(entity)
	if !ok {
		return nil, "", fmt.Errorf("%w: gateway status %q", ErrPaymentNotSettled, entity.Status)
	}

	sig := recon.Normalize(entity)
	sig.Signature = input.Signature

	return s.handler.ProcessEvent(ctx, input.OrderID, kind, sig)
}

// HandleWebhook authenticates and reconciles an asynchronous gateway
// delivery. Unknown events and unknown orders are acknowledged so the
// gateway does not redeliver them forever.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (Outcome, error) {
	if err := s.verifier.VerifyWebhook(body, signature); err != nil {
		return "", err
	}

	var envelope recon.WebhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", fmt.Errorf("decode webhook body: %w", err)
	}

	kind, ok := recon.KindFromWebhookEvent(envelope.Event)
	if !ok {
		s.logger.InfoContext(ctx, "ignoring unhandled webhook event", "event", envelope.Event)
		return OutcomeIgnored, nil
	}

	sig := signalFromEnvelope(envelope)

	order, err := s.resolveOrder(ctx, sig)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			s.logger.WarnContext(ctx, "webhook references unknown order",
				"event", envelope.Event,
				"gateway_order_id", sig.GatewayOrderID,
				"gateway_payment_id", sig.GatewayPaymentID,
			)
			return OutcomeIgnored, nil
		}
		return "", err
	}

	_, outcome, err := s.handler.ProcessEvent(ctx, order.ID, kind, sig)
	return outcome, err
}

// Cancel forwards a user cancellation to the coordinator.
func (s *Service) Cancel(ctx context.Context, orderID, reason string) (*domain.Order, error) {
	return s.handler.Cancel(ctx, orderID, reason)
}

// GetOrder retrieves an order by ID.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetByID(ctx, id)
}

// ListOrders returns orders using a filter.
func (s *Service) ListOrders(ctx context.Context, filter ports.ListFilter) ([]domain.Order, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) resolveOrder(ctx context.Context, sig recon.PaymentSignal) (*domain.Order, error) {
	if sig.GatewayOrderID != "" {
		return s.repo.GetByGatewayOrderID(ctx, sig.GatewayOrderID)
	}
	if sig.GatewayPaymentID != "" {
		return s.repo.GetByGatewayPaymentID(ctx, sig.GatewayPaymentID)
	}
	return nil, fmt.Errorf("%w: webhook carries no gateway identifiers", ports.ErrNotFound)
}

func signalFromEnvelope(envelope recon.WebhookEnvelope) recon.PaymentSignal {
	payment := envelope.Payload.Payment.Entity
	refund := envelope.Payload.Refund.Entity

	if payment.ID == "" {
		return recon.NormalizeRefund(refund)
	}

	sig := recon.Normalize(payment)
	if refund.Status != "" {
		sig.RefundStatusRaw = refund.Status
	}
	return sig
}

// kindFromEntity derives the reconciliation event for the synchronous verify
// channel from the authoritative gateway payment state.
func kindFromEntity(entity recon.PaymentEntity) (recon.EventKind, bool) {
	switch entity.Status {
	case "captured":
		return recon.EventPaymentCaptured, true
	case "refunded":
		return recon.EventRefundProcessed, true
	case "failed":
		return recon.EventPaymentFailed, true
	case "authorized":
		if entity.Captured {
			return recon.EventPaymentCaptured, true
		}
		return "", false
	default:
		return "", false
	}
}

func generateOrderID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
