package domain

// TransactionDetails holds method-specific fields reported by the gateway.
// Each field is write-once in spirit: an incoming empty value never clears
// a previously recorded one.
type TransactionDetails struct {
	// UPI
	RRN              string `json:"rrn,omitempty"`
	UPITransactionID string `json:"upi_transaction_id,omitempty"`
	VPA              string `json:"vpa,omitempty"`
	Flow             string `json:"flow,omitempty"`

	// Card
	CardID   string `json:"card_id,omitempty"`
	CardName string `json:"card_name,omitempty"`
	Last4    string `json:"last4,omitempty"`
	Network  string `json:"network,omitempty"`
	CardType string `json:"card_type,omitempty"`
	Issuer   string `json:"issuer,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
	AuthCode string `json:"auth_code,omitempty"`

	// Wallet
	WalletName string `json:"wallet_name,omitempty"`

	// Netbanking
	BankTransactionID string `json:"bank_transaction_id,omitempty"`
	BankName          string `json:"bank_name,omitempty"`
}

// IsZero reports whether no field carries data.
func (t TransactionDetails) IsZero() bool {
	return t == TransactionDetails{}
}

// Merge overlays incoming non-empty fields onto t and reports whether the
// result differs from t. Empty incoming fields leave existing values alone.
func (t TransactionDetails) Merge(in TransactionDetails) (TransactionDetails, bool) {
	out := t
	out.RRN = pick(t.RRN, in.RRN)
	out.UPITransactionID = pick(t.UPITransactionID, in.UPITransactionID)
	out.VPA = pick(t.VPA, in.VPA)
	out.Flow = pick(t.Flow, in.Flow)
	out.CardID = pick(t.CardID, in.CardID)
	out.CardName = pick(t.CardName, in.CardName)
	out.Last4 = pick(t.Last4, in.Last4)
	out.Network = pick(t.Network, in.Network)
	out.CardType = pick(t.CardType, in.CardType)
	out.Issuer = pick(t.Issuer, in.Issuer)
	out.TokenID = pick(t.TokenID, in.TokenID)
	out.AuthCode = pick(t.AuthCode, in.AuthCode)
	out.WalletName = pick(t.WalletName, in.WalletName)
	out.BankTransactionID = pick(t.BankTransactionID, in.BankTransactionID)
	out.BankName = pick(t.BankName, in.BankName)
	return out, out != t
}

func pick(current, incoming string) string {
	if incoming != "" {
		return incoming
	}
	return current
}
