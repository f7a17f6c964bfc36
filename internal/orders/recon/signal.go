package recon

import (
	"time"

	"github.com/velvette/checkout/internal/orders/domain"
)

// PaymentEntity mirrors the gateway's payment resource as delivered both by
// the REST fetch and inside webhook payloads. Only fields the reconciliation
// core consumes are declared.
type PaymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"` // created, authorized, captured, refunded, failed
	Method           string `json:"method"`
	Amount           int64  `json:"amount"` // paise
	Fee              int64  `json:"fee"`    // paise
	Tax              int64  `json:"tax"`    // paise
	Captured         bool   `json:"captured"`
	Email            string `json:"email"`
	Contact          string `json:"contact"`
	ErrorDescription string `json:"error_description"`
	CreatedAt        int64  `json:"created_at"` // unix seconds
	RefundStatus     string `json:"refund_status"`

	VPA    string `json:"vpa"`
	Bank   string `json:"bank"`
	Wallet string `json:"wallet"`

	Card *CardEntity `json:"card"`
	UPI  *UPIEntity  `json:"upi"`

	AcquirerData AcquirerData `json:"acquirer_data"`
}

// CardEntity is the nested card resource on card payments.
type CardEntity struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Last4   string `json:"last4"`
	Network string `json:"network"`
	Type    string `json:"type"`
	Issuer  string `json:"issuer"`
	TokenID string `json:"token_id"`
}

// UPIEntity is the nested UPI resource on UPI payments.
type UPIEntity struct {
	VPA  string `json:"vpa"`
	Flow string `json:"flow"`
}

// AcquirerData carries bank-side reference numbers, keyed by method.
type AcquirerData struct {
	RRN               string `json:"rrn"`
	UPITransactionID  string `json:"upi_transaction_id"`
	AuthCode          string `json:"auth_code"`
	BankTransactionID string `json:"bank_transaction_id"`
}

// RefundEntity mirrors the gateway's refund resource from refund webhooks.
type RefundEntity struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// WebhookEnvelope is the outer shape of a gateway webhook body.
type WebhookEnvelope struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity PaymentEntity `json:"entity"`
		} `json:"payment"`
		Refund struct {
			Entity RefundEntity `json:"entity"`
		} `json:"refund"`
	} `json:"payload"`
}

// PaymentSignal is the canonical form every gateway payload is reduced to
// before reconciliation.
type PaymentSignal struct {
	GatewayPaymentID string
	GatewayOrderID   string
	Method           domain.PaymentMethod
	CapturedAmount   int64   // paise
	Fee              float64 // rupees, 0 = not reported
	Tax              float64 // rupees, 0 = not reported
	CreatedAt        time.Time
	Email            string
	Contact          string
	ErrorDescription string
	Signature        string // present on the synchronous verify channel only
	Transaction      domain.TransactionDetails
	RefundStatusRaw  string
}

// Normalize reduces a raw payment entity to a PaymentSignal. Unknown methods
// yield empty transaction details so they can never clobber known data.
func Normalize(entity PaymentEntity) PaymentSignal {
	sig := PaymentSignal{
		GatewayPaymentID: entity.ID,
		GatewayOrderID:   entity.OrderID,
		Method:           domain.PaymentMethod(entity.Method),
		CapturedAmount:   entity.Amount,
		Email:            entity.Email,
		Contact:          entity.Contact,
		ErrorDescription: entity.ErrorDescription,
		RefundStatusRaw:  entity.RefundStatus,
	}

	// The gateway reports fee and tax in paise; stored values are rupees.
	// Zero stays zero so a partial update never overwrites a known value.
	if entity.Fee > 0 {
		sig.Fee = float64(entity.Fee) / 100
	}
	if entity.Tax > 0 {
		sig.Tax = float64(entity.Tax) / 100
	}
	if entity.CreatedAt > 0 {
		sig.CreatedAt = time.Unix(entity.CreatedAt, 0).UTC()
	}

	sig.Transaction = extractTransaction(entity)
	return sig
}

// NormalizeRefund reduces a refund entity to the signal form. Refund webhooks
// do not always embed the payment entity, so only payment identity survives.
func NormalizeRefund(refund RefundEntity) PaymentSignal {
	sig := PaymentSignal{
		GatewayPaymentID: refund.PaymentID,
		RefundStatusRaw:  refund.Status,
	}
	if refund.CreatedAt > 0 {
		sig.CreatedAt = time.Unix(refund.CreatedAt, 0).UTC()
	}
	return sig
}

func extractTransaction(entity PaymentEntity) domain.TransactionDetails {
	switch domain.PaymentMethod(entity.Method) {
	case domain.MethodUPI:
		details := domain.TransactionDetails{
			RRN:              entity.AcquirerData.RRN,
			UPITransactionID: entity.AcquirerData.UPITransactionID,
			VPA:              entity.VPA,
		}
		if entity.UPI != nil {
			if details.VPA == "" {
				details.VPA = entity.UPI.VPA
			}
			details.Flow = entity.UPI.Flow
		}
		return details
	case domain.MethodCard:
		details := domain.TransactionDetails{
			AuthCode: entity.AcquirerData.AuthCode,
		}
		if entity.Card != nil {
			details.CardID = entity.Card.ID
			details.CardName = entity.Card.Name
			details.Last4 = entity.Card.Last4
			details.Network = entity.Card.Network
			details.CardType = entity.Card.Type
			details.Issuer = entity.Card.Issuer
			details.TokenID = entity.Card.TokenID
		}
		return details
	case domain.MethodWallet:
		return domain.TransactionDetails{WalletName: entity.Wallet}
	case domain.MethodNetbanking:
		return domain.TransactionDetails{
			BankTransactionID: entity.AcquirerData.BankTransactionID,
			BankName:          entity.Bank,
		}
	default:
		return domain.TransactionDetails{}
	}
}
