package types

// ReceiptStatus reports whether a transaction committed.
type ReceiptStatus string

const (
	ReceiptStatusSuccess ReceiptStatus = "success"
	ReceiptStatusFailed  ReceiptStatus = "failed"
)

// Receipt summarises the outcome of applying a single transaction. Failed
// receipts never carry events because a failed transaction leaves no trace in
// state.
type Receipt struct {
	TxHash string        `json:"txHash"`
	Type   TxType        `json:"type"`
	Signer string        `json:"signer,omitempty"`
	Status ReceiptStatus `json:"status"`
	Error  string        `json:"error,omitempty"`
	Events []Event       `json:"events,omitempty"`
}

// Succeeded reports whether the receipt describes a committed transaction.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == ReceiptStatusSuccess
}
