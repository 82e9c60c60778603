// README: Dispatch coordinator: runs every order action end to end (guard,
// store transition, matching, notifications).
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"drillflow/internal/config"
	"drillflow/internal/modules/location"
	"drillflow/internal/modules/matching"
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/notify"
	"drillflow/internal/types"
)

// Notifier is the outbound message sink. Errors wrap notify.ErrDeliveryFailed.
type Notifier interface {
	Notify(ctx context.Context, userID types.ID, msg notify.Message) (notify.Receipt, error)
	Edit(ctx context.Context, r notify.Receipt, msg notify.Message) error
}

type Matcher interface {
	FindEligible(ctx context.Context, o *order.Order) ([]matching.Candidate, error)
}

type Geocoder interface {
	Geocode(ctx context.Context, address string) (types.Point, error)
}

type Deps struct {
	Orders   *order.Service
	Users    *user.Service
	Zones    *location.Service
	Matcher  Matcher
	Offers   matching.OfferStore
	Notifier Notifier
	// Geocoder is optional; without it orders must carry coordinates.
	Geocoder Geocoder
}

type Coordinator struct {
	orders   *order.Service
	users    *user.Service
	zones    *location.Service
	matcher  Matcher
	offers   matching.OfferStore
	notifier Notifier
	geocoder Geocoder
	cfg      config.DispatchConfig
	logger   *zap.Logger
}

func NewCoordinator(deps Deps, cfg config.DispatchConfig, logger *zap.Logger) *Coordinator {
	if cfg.FanoutLimit <= 0 {
		cfg.FanoutLimit = 1
	}
	return &Coordinator{
		orders:   deps.Orders,
		users:    deps.Users,
		zones:    deps.Zones,
		matcher:  deps.Matcher,
		offers:   deps.Offers,
		notifier: deps.Notifier,
		geocoder: deps.Geocoder,
		cfg:      cfg,
		logger:   logger,
	}
}

// OrderFields is what a client supplies for a new order. Location may be
// nil when the address should be geocoded.
type OrderFields struct {
	ServiceType string
	Address     string
	Description string
	Location    *types.Point
	Price       *types.Money
	Deadline    *time.Time
}

func (c *Coordinator) CreateOrder(ctx context.Context, clientID types.ID, f OrderFields) (*order.Order, error) {
	u, err := c.users.Get(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if err := guardCreate(u); err != nil {
		return nil, err
	}
	service, ok := user.CatalogueEntry(f.ServiceType)
	if !ok {
		return nil, fmt.Errorf("%w %q", order.ErrUnknownService, f.ServiceType)
	}
	f.ServiceType = service

	point, err := c.locate(ctx, f)
	if err != nil {
		return nil, err
	}
	o, err := c.orders.Create(ctx, order.CreateCommand{
		ClientID:    clientID,
		ServiceType: f.ServiceType,
		Address:     f.Address,
		Location:    point,
		Description: f.Description,
		Price:       f.Price,
		Deadline:    f.Deadline,
	})
	if err != nil {
		return nil, err
	}

	candidates, err := c.matcher.FindEligible(ctx, o)
	if err != nil {
		// the order stays NEW and can still be found through search
		c.logger.Error("matching failed", zap.String("order_id", string(o.ID)), zap.Error(err))
		candidates = nil
	}
	offered := c.fanOut(ctx, o, candidates)
	c.logger.Info("order created",
		zap.String("order_id", string(o.ID)),
		zap.String("client_id", string(clientID)),
		zap.Int("candidates", len(candidates)),
		zap.Int("offered", offered),
	)
	c.send(ctx, clientID, createdMessage(o, offered))
	return o, nil
}

func (c *Coordinator) locate(ctx context.Context, f OrderFields) (types.Point, error) {
	if f.Location != nil {
		return *f.Location, nil
	}
	if c.geocoder == nil {
		return types.Point{}, order.ErrNoLocation
	}
	p, err := c.geocoder.Geocode(ctx, f.Address)
	if err != nil {
		return types.Point{}, fmt.Errorf("%w: %v", order.ErrAddressNotFound, err)
	}
	return p, nil
}

// fanOut offers o to every candidate. Failed deliveries are logged and
// skipped; the number of delivered offers is returned.
func (c *Coordinator) fanOut(ctx context.Context, o *order.Order, candidates []matching.Candidate) int {
	if len(candidates) == 0 {
		return 0
	}
	var (
		mu        sync.Mutex
		delivered []matching.Offer
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.FanoutLimit)
	for _, cand := range candidates {
		g.Go(func() error {
			r, err := c.notifier.Notify(gctx, cand.ID(), offerMessage(o, cand.DistanceKm))
			if err != nil {
				c.logger.Warn("offer not delivered",
					zap.String("order_id", string(o.ID)),
					zap.String("contractor_id", string(cand.ID())),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			delivered = append(delivered, matching.Offer{
				ContractorID: cand.ID(),
				ChatID:       r.ChatID,
				MessageID:    r.MessageID,
				SentAt:       time.Now(),
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := c.offers.RecordOffers(ctx, o.ID, delivered); err != nil {
		c.logger.Warn("offers not recorded", zap.String("order_id", string(o.ID)), zap.Error(err))
	}
	return len(delivered)
}

func (c *Coordinator) AcceptOrder(ctx context.Context, contractorID, orderID types.ID) (*order.Order, error) {
	u, err := c.users.Get(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	if err := guardAccept(u); err != nil {
		return nil, err
	}
	o, err := c.orders.Accept(ctx, orderID, contractorID)
	if err != nil {
		if errors.Is(err, order.ErrAlreadyTaken) || errors.Is(err, order.ErrInvalidState) {
			c.logger.Info("accept lost",
				zap.String("order_id", string(orderID)),
				zap.String("contractor_id", string(contractorID)),
				zap.Error(err),
			)
		}
		return nil, err
	}
	c.logger.Info("order accepted", zap.String("order_id", string(o.ID)), zap.String("contractor_id", string(contractorID)))

	// The accept is committed; everything below is best effort.
	if client, err := c.users.Get(ctx, o.ClientID); err != nil {
		c.logger.Warn("client lookup failed", zap.String("client_id", string(o.ClientID)), zap.Error(err))
	} else {
		c.send(ctx, contractorID, acceptedForContractor(o, client))
	}
	if p, err := c.users.Profile(ctx, contractorID); err != nil {
		c.logger.Warn("profile lookup failed", zap.String("contractor_id", string(contractorID)), zap.Error(err))
	} else {
		c.send(ctx, o.ClientID, acceptedForClient(o, p))
	}
	c.withdrawOffers(ctx, o.ID, contractorID, takenMessage)
	return o, nil
}

// withdrawOffers edits every outstanding offer of orderID except the one to
// keep, falling back to a new message when the edit fails.
func (c *Coordinator) withdrawOffers(ctx context.Context, orderID, keep types.ID, msg notify.Message) {
	offers, err := c.offers.Offers(ctx, orderID)
	if err != nil {
		c.logger.Warn("offers lookup failed", zap.String("order_id", string(orderID)), zap.Error(err))
		return
	}
	for _, off := range offers {
		if off.ContractorID == keep {
			continue
		}
		r := notify.Receipt{UserID: off.ContractorID, ChatID: off.ChatID, MessageID: off.MessageID}
		if err := c.notifier.Edit(ctx, r, msg); err != nil {
			c.logger.Debug("offer edit failed, sending follow-up", zap.String("contractor_id", string(off.ContractorID)), zap.Error(err))
			c.send(ctx, off.ContractorID, msg)
		}
	}
	if err := c.offers.Clear(ctx, orderID); err != nil {
		c.logger.Warn("offers not cleared", zap.String("order_id", string(orderID)), zap.Error(err))
	}
}

func (c *Coordinator) DeclineOrder(ctx context.Context, contractorID, orderID types.ID) error {
	u, err := c.users.Get(ctx, contractorID)
	if err != nil {
		return err
	}
	if err := guardDecline(u); err != nil {
		return err
	}
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if o.Status != order.StatusNew {
		return order.ErrInvalidState
	}
	offers, err := c.offers.Offers(ctx, orderID)
	if err != nil {
		return fmt.Errorf("load offers: %w", err)
	}
	for _, off := range offers {
		if off.ContractorID != contractorID {
			continue
		}
		r := notify.Receipt{UserID: contractorID, ChatID: off.ChatID, MessageID: off.MessageID}
		if err := c.notifier.Edit(ctx, r, declinedMessage); err != nil {
			c.logger.Debug("decline edit failed", zap.String("contractor_id", string(contractorID)), zap.Error(err))
		}
	}
	return c.offers.Forget(ctx, orderID, contractorID)
}

func (c *Coordinator) StartOrder(ctx context.Context, contractorID, orderID types.ID) (*order.Order, error) {
	u, o, err := c.load(ctx, contractorID, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardStart(u, o); err != nil {
		return nil, err
	}
	o, err = c.orders.Start(ctx, orderID, contractorID)
	if err != nil {
		return nil, err
	}
	c.send(ctx, contractorID, startedForContractor(o))
	c.send(ctx, o.ClientID, startedForClient(o))
	return o, nil
}

func (c *Coordinator) CancelOrder(ctx context.Context, actorID, orderID types.ID, reason string) (*order.Order, error) {
	u, o, err := c.load(ctx, actorID, orderID)
	if err != nil {
		return nil, err
	}
	actor, err := guardCancel(u, o)
	if err != nil {
		return nil, err
	}
	return c.cancel(ctx, o.ID, actor, reason)
}

// cancel is shared by user cancellations and the expiry sweep.
func (c *Coordinator) cancel(ctx context.Context, orderID types.ID, actor order.Actor, reason string) (*order.Order, error) {
	o, err := c.orders.Cancel(ctx, orderID, actor, reason)
	if err != nil {
		return nil, err
	}
	c.logger.Info("order cancelled",
		zap.String("order_id", string(o.ID)),
		zap.String("actor", string(actor.Kind)),
		zap.String("reason", reason),
	)

	msg := cancelledMessage(o, actor.Kind)
	if actor.Kind != order.ActorClient {
		c.send(ctx, o.ClientID, msg)
	}
	if o.ContractorID != nil && actor.Kind != order.ActorContractor {
		c.send(ctx, *o.ContractorID, msg)
	}
	c.withdrawOffers(ctx, o.ID, "", withdrawnMessage)
	return o, nil
}

func (c *Coordinator) CompleteOrder(ctx context.Context, contractorID, orderID types.ID, rating *int) (*order.Order, error) {
	u, o, err := c.load(ctx, contractorID, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardComplete(u, o); err != nil {
		return nil, err
	}
	o, err = c.orders.Complete(ctx, orderID, contractorID, rating)
	if err != nil {
		return nil, err
	}
	c.logger.Info("order completed", zap.String("order_id", string(o.ID)), zap.String("contractor_id", string(contractorID)))
	c.send(ctx, o.ClientID, completedForClient(o))
	if p, err := c.users.Profile(ctx, contractorID); err == nil {
		c.send(ctx, contractorID, completedForContractor(p))
	}
	return o, nil
}

func (c *Coordinator) RateOrder(ctx context.Context, clientID, orderID types.ID, score int) (*order.Order, error) {
	u, o, err := c.load(ctx, clientID, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardRate(u, o); err != nil {
		return nil, err
	}
	o, err = c.orders.Rate(ctx, orderID, clientID, score)
	if err != nil {
		return nil, err
	}
	c.send(ctx, *o.ContractorID, ratedForContractor(o, score))
	return o, nil
}

func (c *Coordinator) GetOrder(ctx context.Context, userID, orderID types.ID) (*order.Order, error) {
	u, o, err := c.load(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if err := guardView(u, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (c *Coordinator) ListOrders(ctx context.Context, userID types.ID) ([]*order.Order, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return c.orders.ListForUser(ctx, userID, u.Role)
}

func (c *Coordinator) UpdateContractorLocation(ctx context.Context, contractorID types.ID, p types.Point) error {
	if err := c.contractor(ctx, contractorID); err != nil {
		return err
	}
	if err := c.zones.UpdateContractorZone(ctx, contractorID, p); err != nil {
		if errors.Is(err, location.ErrInvalidPoint) {
			return fmt.Errorf("%w: %v", order.ErrBadLocation, err)
		}
		return err
	}
	return nil
}

// SearchNearbyOrders lists NEW orders around the contractor's zone; a zero
// radius means the contractor's own work radius.
func (c *Coordinator) SearchNearbyOrders(ctx context.Context, contractorID types.ID, radiusKm float64) ([]*order.Order, error) {
	if err := c.contractor(ctx, contractorID); err != nil {
		return nil, err
	}
	p, err := c.users.Profile(ctx, contractorID)
	if err != nil {
		return nil, err
	}
	if p.Zone == nil {
		return nil, order.ErrNoZone
	}
	if radiusKm <= 0 {
		radiusKm = p.RadiusKm
	}
	return c.orders.ListActiveNear(ctx, *p.Zone, radiusKm)
}

func (c *Coordinator) SetAvailability(ctx context.Context, contractorID types.ID, a user.Availability) error {
	if err := c.contractor(ctx, contractorID); err != nil {
		return err
	}
	return c.users.SetAvailability(ctx, contractorID, a)
}

func (c *Coordinator) contractor(ctx context.Context, id types.ID) error {
	u, err := c.users.Get(ctx, id)
	if err != nil {
		return err
	}
	return guardContractorSelf(u)
}

func (c *Coordinator) load(ctx context.Context, userID, orderID types.ID) (*user.User, *order.Order, error) {
	u, err := c.users.Get(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	o, err := c.orders.Get(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return u, o, nil
}

// send delivers a notification and only logs a failure.
func (c *Coordinator) send(ctx context.Context, userID types.ID, msg notify.Message) {
	if _, err := c.notifier.Notify(ctx, userID, msg); err != nil {
		c.logger.Warn("notification not delivered", zap.String("user_id", string(userID)), zap.Error(err))
	}
}
