package ports

import "context"

// Transactor runs fn inside a database transaction carried by the context.
// Nested calls join the outer transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}
