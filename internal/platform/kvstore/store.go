// Package kvstore provides the process-wide key-value persistence surface
// used for the active basket, the identity registry, and the last computed
// grand total.
package kvstore

import "context"

// Store is a JSON document store with plain get/set/remove semantics.
//
// Get decodes the stored document into dest and reports whether a usable
// document existed. A missing or malformed document leaves dest untouched
// and reports found=false without an error; readers are expected to fall
// back to their zero value. The error return is reserved for backend
// failures (unreachable database, cancelled context).
type Store interface {
	Get(ctx context.Context, key string, dest any) (found bool, err error)
	Set(ctx context.Context, key string, value any) error
	Remove(ctx context.Context, key string) error
}

// Well-known keys shared by the services that persist through the store.
const (
	// KeyActiveBasket holds the identity key of the active basket.
	KeyActiveBasket = "basket:active"
	// KeyRegistryPrefix prefixes per-identity basket documents.
	KeyRegistryPrefix = "basket:identity:"
	// KeyGrandTotal holds the last computed grand total for the
	// confirmation view.
	KeyGrandTotal = "checkout:grand_total"
)
