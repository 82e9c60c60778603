package ai

import (
	"context"
)

// ServiceClassifier maps a client's free-text request onto one entry of a
// service catalogue. Implementations return "" when nothing fits.
type ServiceClassifier interface {
	ClassifyService(ctx context.Context, request string, catalogue []string) (string, error)
}
