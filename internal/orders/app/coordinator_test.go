package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/velvette/checkout/internal/orders/adapters/memory"
	"github.com/velvette/checkout/internal/orders/domain"
	"github.com/velvette/checkout/internal/orders/ports"
	"github.com/velvette/checkout/internal/orders/recon"
)

var testNow = time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

type mockGateway struct {
	createOrderFunc  func(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error)
	fetchPaymentFunc func(ctx context.Context, paymentID string) (recon.PaymentEntity, error)
	issueRefundFunc  func(ctx context.Context, paymentID string, amount int64, notes map[string]string) error

	refundCalls int
}

func (m *mockGateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string, notes map[string]string) (string, error) {
	if m.createOrderFunc != nil {
		return m.createOrderFunc(ctx, amount, currency, receipt, notes)
	}
	return "order_gw1", nil
}

func (m *mockGateway) FetchPayment(ctx context.Context, paymentID string) (recon.PaymentEntity, error) {
	if m.fetchPaymentFunc != nil {
		return m.fetchPaymentFunc(ctx, paymentID)
	}
	return recon.PaymentEntity{}, errors.New("not implemented")
}

func (m *mockGateway) IssueRefund(ctx context.Context, paymentID string, amount int64, notes map[string]string) error {
	m.refundCalls++
	if m.issueRefundFunc != nil {
		return m.issueRefundFunc(ctx, paymentID, amount, notes)
	}
	return nil
}

// mockEventBus records publishes on a channel so tests can wait for the
// fire-and-forget goroutine.
type mockEventBus struct {
	published chan string
}

func newMockEventBus() *mockEventBus {
	return &mockEventBus{published: make(chan string, 16)}
}

func (m *mockEventBus) PublishOrderConfirmed(_ context.Context, orderID string) error {
	m.published <- "order.confirmed:" + orderID
	return nil
}

func (m *mockEventBus) PublishOrderCancelled(_ context.Context, orderID string, _ string) error {
	m.published <- "order.cancelled:" + orderID
	return nil
}

func (m *mockEventBus) PublishPaymentFailed(_ context.Context, orderID string, _ string) error {
	m.published <- "payment.failed:" + orderID
	return nil
}

func (m *mockEventBus) PublishRefundInitiated(_ context.Context, orderID string) error {
	m.published <- "refund.initiated:" + orderID
	return nil
}

func (m *mockEventBus) waitFor(t *testing.T, want string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-m.published:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for published event %q", want)
		}
	}
}

type mockIndexer struct {
	enqueued []string
}

func (m *mockIndexer) Enqueue(orderID string) {
	m.enqueued = append(m.enqueued, orderID)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type coordinatorFixture struct {
	repo    *memory.Repository
	gateway *mockGateway
	events  *mockEventBus
	indexer *mockIndexer
	coord   *Coordinator
}

func newCoordinatorFixture() *coordinatorFixture {
	repo := memory.NewRepository()
	repo.SetClock(func() time.Time { return testNow })

	gateway := &mockGateway{}
	events := newMockEventBus()
	indexer := &mockIndexer{}

	engine := recon.NewEngine(
		recon.WithClock(func() time.Time { return testNow }),
		recon.WithReceiptIDs(func() string { return "rcpt_test" }),
	)

	return &coordinatorFixture{
		repo:    repo,
		gateway: gateway,
		events:  events,
		indexer: indexer,
		coord:   NewCoordinator(repo, repo, engine, gateway, events, indexer, testLogger()),
	}
}

func (f *coordinatorFixture) seedOrder(t *testing.T, order domain.Order) {
	t.Helper()
	if err := f.repo.Create(context.Background(), order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
}

func seedOrder() domain.Order {
	return domain.Order{
		ID:     "ord_1",
		UserID: "user_1",
		LineItems: []domain.LineItem{
			{ProductID: "prod_1", ShadeID: "shade_2", Quantity: 2, UnitPrice: 59900},
			{ProductID: "prod_2", Quantity: 1, UnitPrice: 129900},
		},
		Status: domain.StatusPending,
		Payment: domain.Payment{
			Status:         domain.PaymentUnpaid,
			GatewayOrderID: "order_gw1",
			Amount:         249700,
		},
		CreatedAt: testNow.Add(-time.Hour),
		UpdatedAt: testNow.Add(-time.Hour),
	}
}

func capturedSignal() recon.PaymentSignal {
	return recon.PaymentSignal{
		GatewayPaymentID: "pay_1",
		GatewayOrderID:   "order_gw1",
		Method:           domain.MethodUPI,
		CapturedAmount:   249700,
		Fee:              14.16,
		Tax:              2.16,
		CreatedAt:        testNow,
		Transaction:      domain.TransactionDetails{RRN: "302987654321", VPA: "buyer@upi"},
	}
}

func TestProcessEventCaptureFlow(t *testing.T) {
	t.Run("capture advances the order and runs settlement side effects once", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())
		f.repo.SetStock("prod_1", "shade_2", 10)
		f.repo.SetStock("prod_2", "", 5)
		f.repo.SeedCart("user_1", seedOrder().LineItems)

		order, outcome, err := f.coord.ProcessEvent(context.Background(), "ord_1", recon.EventPaymentCaptured, capturedSignal())
		if err != nil {
			t.Fatalf("ProcessEvent() failed: %v", err)
		}
		if outcome != OutcomeApplied {
			t.Errorf("outcome = %s, want applied", outcome)
		}

		if order.Status != domain.StatusProcessing {
			t.Errorf("Status = %s, want processing", order.Status)
		}
		if order.Payment.Status != domain.PaymentCaptured {
			t.Errorf("Payment.Status = %s, want captured", order.Payment.Status)
		}
		if order.Payment.GatewayPaymentID != "pay_1" {
			t.Errorf("GatewayPaymentID = %s, want pay_1", order.Payment.GatewayPaymentID)
		}
		if order.Payment.ReceiptID != "rcpt_test" {
			t.Errorf("ReceiptID = %s, want rcpt_test", order.Payment.ReceiptID)
		}

		if got := f.repo.Stock("prod_1", "shade_2"); got != 8 {
			t.Errorf("shade stock = %d, want 8", got)
		}
		if got := f.repo.Stock("prod_2", ""); got != 4 {
			t.Errorf("product stock = %d, want 4", got)
		}
		if items := f.repo.CartItems("user_1"); len(items) != 0 {
			t.Errorf("cart still holds %d items, want 0", len(items))
		}

		if len(f.indexer.enqueued) != 1 || f.indexer.enqueued[0] != "ord_1" {
			t.Errorf("indexer enqueued = %v, want [ord_1]", f.indexer.enqueued)
		}
	})

	t.Run("order paid after capture publishes confirmation without re-running side effects", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())
		f.repo.SetStock("prod_1", "shade_2", 10)

		ctx := context.Background()
		if _, _, err := f.coord.ProcessEvent(ctx, "ord_1", recon.EventPaymentCaptured, capturedSignal()); err != nil {
			t.Fatalf("capture failed: %v", err)
		}

		order, outcome, err := f.coord.ProcessEvent(ctx, "ord_1", recon.EventOrderPaid, capturedSignal())
		if err != nil {
			t.Fatalf("order.paid failed: %v", err)
		}
		if outcome != OutcomeApplied {
			t.Errorf("outcome = %s, want applied", outcome)
		}
		if order.Status != domain.StatusConfirmed || order.Payment.Status != domain.PaymentPaid {
			t.Errorf("order ended %s/%s, want confirmed/paid", order.Status, order.Payment.Status)
		}

		// Stock was decremented by the capture only.
		if got := f.repo.Stock("prod_1", "shade_2"); got != 8 {
			t.Errorf("shade stock = %d, want 8", got)
		}

		f.events.waitFor(t, "order.confirmed:ord_1")
	})
}

func TestProcessEventDuplicateDelivery(t *testing.T) {
	t.Run("redelivered capture acknowledges without repeating side effects", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())
		f.repo.SetStock("prod_1", "shade_2", 10)
		f.repo.SeedCart("user_1", seedOrder().LineItems)

		ctx := context.Background()
		sig := capturedSignal()

		if _, _, err := f.coord.ProcessEvent(ctx, "ord_1", recon.EventPaymentCaptured, sig); err != nil {
			t.Fatalf("first delivery failed: %v", err)
		}

		order, outcome, err := f.coord.ProcessEvent(ctx, "ord_1", recon.EventPaymentCaptured, sig)
		if err != nil {
			t.Fatalf("duplicate delivery must not error: %v", err)
		}
		if outcome != OutcomeNoOp {
			t.Errorf("outcome = %s, want noop", outcome)
		}
		if order.Payment.Status != domain.PaymentCaptured {
			t.Errorf("Payment.Status = %s, want captured", order.Payment.Status)
		}

		if got := f.repo.Stock("prod_1", "shade_2"); got != 8 {
			t.Errorf("shade stock = %d after duplicate, want 8", got)
		}
		if len(f.indexer.enqueued) != 1 {
			t.Errorf("indexer enqueued %d times, want 1", len(f.indexer.enqueued))
		}
	})
}

func TestProcessEventPaymentMismatch(t *testing.T) {
	f := newCoordinatorFixture()
	order := seedOrder()
	order.Payment.GatewayPaymentID = "pay_1"
	f.seedOrder(t, order)

	sig := capturedSignal()
	sig.GatewayPaymentID = "pay_other"

	_, _, err := f.coord.ProcessEvent(context.Background(), "ord_1", recon.EventPaymentCaptured, sig)
	if !errors.Is(err, ports.ErrPaymentMismatch) {
		t.Fatalf("err = %v, want ErrPaymentMismatch", err)
	}

	stored, _ := f.repo.GetByID(context.Background(), "ord_1")
	if stored.Status != domain.StatusPending {
		t.Errorf("Status = %s, rejected event must not mutate the order", stored.Status)
	}
}

func TestProcessEventStaleFailure(t *testing.T) {
	t.Run("failure after cancellation leaves the order untouched", func(t *testing.T) {
		f := newCoordinatorFixture()
		order := seedOrder()
		order.Status = domain.StatusCancelled
		cancelledAt := testNow.Add(-time.Minute)
		order.CancelledAt = &cancelledAt
		f.seedOrder(t, order)

		sig := capturedSignal()
		sig.ErrorDescription = "payment timed out"

		stored, outcome, err := f.coord.ProcessEvent(context.Background(), "ord_1", recon.EventPaymentFailed, sig)
		if err != nil {
			t.Fatalf("stale failure must be acknowledged: %v", err)
		}
		if outcome != OutcomeNoOp {
			t.Errorf("outcome = %s, want noop", outcome)
		}
		if stored.Status != domain.StatusCancelled {
			t.Errorf("Status = %s, want cancelled", stored.Status)
		}
		if stored.Message != "" {
			t.Errorf("Message = %q, stale failure must not attach a message", stored.Message)
		}
		if len(f.indexer.enqueued) != 0 {
			t.Error("no-op must not trigger reindexing")
		}
	})

	t.Run("failure on a pending order records it and publishes", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())

		sig := capturedSignal()
		sig.ErrorDescription = "Payment declined by issuing bank"

		order, outcome, err := f.coord.ProcessEvent(context.Background(), "ord_1", recon.EventPaymentFailed, sig)
		if err != nil {
			t.Fatalf("ProcessEvent() failed: %v", err)
		}
		if outcome != OutcomeApplied {
			t.Errorf("outcome = %s, want applied", outcome)
		}
		if order.Status != domain.StatusFailed || order.Payment.Status != domain.PaymentFailed {
			t.Errorf("order ended %s/%s, want failed/failed", order.Status, order.Payment.Status)
		}
		if order.Message != "Payment declined by issuing bank" {
			t.Errorf("Message = %q, want gateway description", order.Message)
		}

		f.events.waitFor(t, "payment.failed:ord_1")
	})
}

func TestCancel(t *testing.T) {
	t.Run("unpaid order cancels without touching the gateway", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())

		order, err := f.coord.Cancel(context.Background(), "ord_1", "changed my mind")
		if err != nil {
			t.Fatalf("Cancel() failed: %v", err)
		}

		if order.Status != domain.StatusCancelled {
			t.Errorf("Status = %s, want cancelled", order.Status)
		}
		if order.CancelledAt == nil {
			t.Error("CancelledAt not stamped")
		}
		if order.Message != "changed my mind" {
			t.Errorf("Message = %q, want the reason", order.Message)
		}
		if f.gateway.refundCalls != 0 {
			t.Errorf("refund calls = %d, want 0", f.gateway.refundCalls)
		}

		f.events.waitFor(t, "order.cancelled:ord_1")
	})

	t.Run("paid order refunds before committing the cancellation", func(t *testing.T) {
		f := newCoordinatorFixture()
		order := seedOrder()
		order.Status = domain.StatusConfirmed
		order.Payment.Status = domain.PaymentPaid
		order.Payment.GatewayPaymentID = "pay_1"
		f.seedOrder(t, order)

		var refundedAmount int64
		f.gateway.issueRefundFunc = func(_ context.Context, paymentID string, amount int64, _ map[string]string) error {
			if paymentID != "pay_1" {
				t.Errorf("refund against payment %s, want pay_1", paymentID)
			}
			refundedAmount = amount
			return nil
		}

		updated, err := f.coord.Cancel(context.Background(), "ord_1", "")
		if err != nil {
			t.Fatalf("Cancel() failed: %v", err)
		}

		if f.gateway.refundCalls != 1 {
			t.Errorf("refund calls = %d, want 1", f.gateway.refundCalls)
		}
		if refundedAmount != 249700 {
			t.Errorf("refund amount = %d, want 249700", refundedAmount)
		}
		if updated.Status != domain.StatusCancelled {
			t.Errorf("Status = %s, want cancelled", updated.Status)
		}
		if updated.RefundStatus != domain.RefundRequested {
			t.Errorf("RefundStatus = %s, want requested", updated.RefundStatus)
		}

		f.events.waitFor(t, "order.cancelled:ord_1")
		f.events.waitFor(t, "refund.initiated:ord_1")
	})

	t.Run("refund failure aborts the cancellation", func(t *testing.T) {
		f := newCoordinatorFixture()
		order := seedOrder()
		order.Status = domain.StatusConfirmed
		order.Payment.Status = domain.PaymentPaid
		order.Payment.GatewayPaymentID = "pay_1"
		f.seedOrder(t, order)

		f.gateway.issueRefundFunc = func(context.Context, string, int64, map[string]string) error {
			return errors.New("gateway unavailable")
		}

		if _, err := f.coord.Cancel(context.Background(), "ord_1", ""); err == nil {
			t.Fatal("Cancel() should fail when the refund fails")
		}

		stored, _ := f.repo.GetByID(context.Background(), "ord_1")
		if stored.Status != domain.StatusConfirmed {
			t.Errorf("Status = %s, failed refund must leave the order untouched", stored.Status)
		}
		if stored.RefundStatus != domain.RefundNone {
			t.Errorf("RefundStatus = %s, want none", stored.RefundStatus)
		}
		if len(f.indexer.enqueued) != 0 {
			t.Error("aborted cancellation must not trigger reindexing")
		}
	})

	t.Run("delivered order rejects cancellation", func(t *testing.T) {
		f := newCoordinatorFixture()
		order := seedOrder()
		order.Status = domain.StatusDelivered
		f.seedOrder(t, order)

		_, err := f.coord.Cancel(context.Background(), "ord_1", "")
		if !errors.Is(err, ports.ErrNotCancellable) {
			t.Fatalf("err = %v, want ErrNotCancellable", err)
		}
	})

	t.Run("duplicate cancellation settles as a no-op inside the transaction", func(t *testing.T) {
		f := newCoordinatorFixture()
		f.seedOrder(t, seedOrder())

		ctx := context.Background()
		if _, err := f.coord.Cancel(ctx, "ord_1", "first"); err != nil {
			t.Fatalf("first Cancel() failed: %v", err)
		}

		// The second call sees a cancelled order at plan time and rejects.
		if _, err := f.coord.Cancel(ctx, "ord_1", "second"); !errors.Is(err, ports.ErrNotCancellable) {
			t.Fatalf("second Cancel() = %v, want ErrNotCancellable", err)
		}

		stored, _ := f.repo.GetByID(ctx, "ord_1")
		if stored.Message != "first" {
			t.Errorf("Message = %q, duplicate must not overwrite", stored.Message)
		}
	})

	t.Run("unknown order returns not found", func(t *testing.T) {
		f := newCoordinatorFixture()
		if _, err := f.coord.Cancel(context.Background(), "missing", ""); !errors.Is(err, ports.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
	})
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(ports.ErrConflict) {
		t.Error("ErrConflict should be retryable")
	}
	if IsRetryable(ports.ErrPaymentMismatch) {
		t.Error("ErrPaymentMismatch should not be retryable")
	}
	if IsRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
