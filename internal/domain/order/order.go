package order

import (
	"errors"
	"time"
)

// Category whitelists the products an order can pay for.
type Category string

const (
	CategoryMintSBT Category = "mint_sbt_v3"
)

var (
	ErrAlreadyFulfilled = errors.New("order already fulfilled")
	ErrAlreadyRefunded  = errors.New("order already refunded")
)

// Order carries payment metadata for a non-session product. Its commitment
// (ExternalOrderID) is caller-supplied hex rather than derived from the
// record's own identifier, which is why it is a separate entity.
type Order struct {
	ExternalOrderID string    `json:"externalOrderId"`
	UserID          string    `json:"userId"`
	Category        Category  `json:"category"`
	ChainID         uint64    `json:"chainId,omitempty"`
	TxHash          string    `json:"txHash,omitempty"`
	Fulfilled       bool      `json:"fulfilled"`
	Refunded        bool      `json:"refunded"`
	RefundTxHash    string    `json:"refundTxHash,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// BindPayment records the matched payment. Fulfillment stays false: it is a
// separate API-key-gated step taken after the product is delivered.
func (o *Order) BindPayment(chainID uint64, txHash string) error {
	if o.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if o.Refunded {
		return ErrAlreadyRefunded
	}
	o.ChainID = chainID
	o.TxHash = txHash
	return nil
}

// MarkRefunded records the refund terminal state.
func (o *Order) MarkRefunded(refundTxHash string) error {
	if o.Fulfilled {
		return ErrAlreadyFulfilled
	}
	if o.Refunded {
		return ErrAlreadyRefunded
	}
	o.Refunded = true
	o.RefundTxHash = refundTxHash
	return nil
}
