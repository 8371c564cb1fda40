package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// ObjectStore persists invoice artifacts and returns a durable URL per object.
// Implementations must not panic across this boundary; callers branch on the
// returned error.
type ObjectStore interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// ObjectKey addresses an artifact as {kind}/{invoiceId}/{docNumber}.{ext}.
func ObjectKey(kind string, invoiceID uuid.UUID, docNumber, ext string) string {
	return fmt.Sprintf("%s/%s/%s.%s", kind, invoiceID, docNumber, ext)
}
