package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// ErrCredentialNotFound indicates the requested credential entry does not exist.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore defines the driven port for credential entry persistence.
// Entries arrive already encrypted; the store never sees plaintext secrets.
type CredentialStore interface {
	Add(ctx context.Context, entry model.CredentialEntry) (model.CredentialEntry, error)
	Update(ctx context.Context, entry model.CredentialEntry) error
	Delete(ctx context.Context, lockerID, id int64) error
	Get(ctx context.Context, lockerID, id int64) (*model.CredentialEntry, error)
	// List returns entries ordered by priority then title.
	List(ctx context.Context, lockerID int64, activeOnly bool) ([]model.CredentialEntry, error)
}
