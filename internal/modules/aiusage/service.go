// README: AI-usage service; token accounting and the quota-guarded service classifier.
package aiusage

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"drillflow/internal/ai"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

// Service orchestrates AI token-usage logic.
type Service struct {
	store Repository
}

// NewService creates a Service backed by the given store.
func NewService(store Repository) *Service {
	return &Service{store: store}
}

// Spend takes one token from uid's monthly allowance and returns the
// balance. ErrInsufficientTokens means the month is used up.
func (s *Service) Spend(ctx context.Context, uid string) (int, error) {
	return s.store.Spend(ctx, uid)
}

// UseToken is Spend without the balance.
func (s *Service) UseToken(ctx context.Context, uid string) error {
	_, err := s.store.Spend(ctx, uid)
	return err
}

// QuotaClassifier spends one token per call before asking the model to map
// free text onto the service catalogue.
type QuotaClassifier struct {
	usage    *Service
	provider ai.ServiceClassifier
	logger   *zap.Logger
}

func NewQuotaClassifier(usage *Service, provider ai.ServiceClassifier, logger *zap.Logger) *QuotaClassifier {
	return &QuotaClassifier{usage: usage, provider: provider, logger: logger}
}

// Classify returns "" without calling the model once the user is out of tokens.
func (c *QuotaClassifier) Classify(ctx context.Context, userID types.ID, text string) (string, error) {
	left, err := c.usage.Spend(ctx, userID.String())
	if errors.Is(err, ErrInsufficientTokens) {
		c.logger.Info("ai quota exhausted", zap.String("user_id", userID.String()))
		return "", nil
	}
	if err != nil {
		return "", err
	}
	c.logger.Debug("ai token spent", zap.String("user_id", userID.String()), zap.Int("remaining", left))
	return c.provider.ClassifyService(ctx, text, user.ServiceCatalogue)
}
