package ledger

import "context"

// Known partitions. Each consuming product line gets its own namespace: the
// same payment address serves several products, so a hash handled for one
// partition may still be pending for another.
const (
	PartitionIDServer    = "idServer"
	PartitionPhoneServer = "phoneServer"
	PartitionOrders      = "orders"
)

// Repository is the idempotency ledger: an append-only set of transaction
// hashes already acted upon, per partition. Presence of a hash means the
// associated action either completed durably or was judged not actionable.
type Repository interface {
	IsProcessed(ctx context.Context, partition, txHash string) (bool, error)
	// MarkProcessed is idempotent: inserting a present hash is a no-op.
	MarkProcessed(ctx context.Context, partition, txHash string) error
}
