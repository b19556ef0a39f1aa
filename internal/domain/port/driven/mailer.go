package driven

import (
	"context"

	"github.com/ericfisherdev/afteryou/internal/domain/model"
)

// Mailer defines the driven port for the outbound email transport.
// Implementations must honor ctx cancellation so a stuck send surfaces as an error.
type Mailer interface {
	Send(ctx context.Context, email model.Email) error
}
