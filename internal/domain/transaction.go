package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a ledger transaction.
type TransactionKind string

const (
	KindIncome   TransactionKind = "income"
	KindExpense  TransactionKind = "expense"
	KindTransfer TransactionKind = "transfer"
)

// Valid reports whether k is one of the known kinds.
func (k TransactionKind) Valid() bool {
	switch k {
	case KindIncome, KindExpense, KindTransfer:
		return true
	}
	return false
}

// ImportSource records how a transaction entered the ledger.
type ImportSource string

const (
	SourceManual    ImportSource = "manual"
	SourceTransfer  ImportSource = "transfer"
	SourceCSVImport ImportSource = "csv_import"
)

// Transaction is one atomic monetary event on an account.
// Amount is expressed in Currency; AmountSettlement is the same value
// converted into the settlement currency and is what balances fold over.
type Transaction struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"ownerId"`
	AccountID string          `json:"accountId"`
	Kind      TransactionKind `json:"kind"`

	Amount           decimal.Decimal `json:"amount"`
	AmountSettlement decimal.Decimal `json:"amountSettlement"`
	Currency         string          `json:"currency"`

	CategoryID  *string `json:"categoryId,omitempty"`
	Merchant    *string `json:"merchant,omitempty"`
	Description *string `json:"description,omitempty"`
	Note        *string `json:"note,omitempty"`

	OccurredAt time.Time `json:"occurredAt"`

	// Transfer legs share LinkedTransferID. The outgoing leg carries
	// TransferToAccountID, the incoming leg TransferFromAccountID.
	LinkedTransferID      *string `json:"linkedTransferId,omitempty"`
	TransferToAccountID   *string `json:"transferToAccountId,omitempty"`
	TransferFromAccountID *string `json:"transferFromAccountId,omitempty"`

	ExternalID    *string      `json:"externalId,omitempty"`
	ImportBatchID *string      `json:"importBatchId,omitempty"`
	ImportSource  ImportSource `json:"importSource"`
	Fingerprint   string       `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TransferSource returns the account money leaves for a transfer leg.
func (t *Transaction) TransferSource() string {
	if t.TransferFromAccountID != nil {
		return *t.TransferFromAccountID
	}
	return t.AccountID
}

// TransferDestination returns the account money arrives in for a transfer leg.
func (t *Transaction) TransferDestination() string {
	if t.TransferToAccountID != nil {
		return *t.TransferToAccountID
	}
	return t.AccountID
}

// TransferKey identifies the logical transfer a leg belongs to.
func (t *Transaction) TransferKey() string {
	if t.LinkedTransferID != nil && *t.LinkedTransferID != "" {
		return *t.LinkedTransferID
	}
	return t.ID
}

// References reports whether the transaction touches accountID in any role.
func (t *Transaction) References(accountID string) bool {
	if t.AccountID == accountID {
		return true
	}
	if t.TransferToAccountID != nil && *t.TransferToAccountID == accountID {
		return true
	}
	return t.TransferFromAccountID != nil && *t.TransferFromAccountID == accountID
}

// StringPtr returns nil for empty strings and a pointer otherwise.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
