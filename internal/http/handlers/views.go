// README: JSON views of orders and accounts.
package handlers

import (
	"time"

	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
	"drillflow/internal/types"
)

type moneyView struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type orderView struct {
	ID           string       `json:"id"`
	ClientID     string       `json:"client_id"`
	ContractorID *string      `json:"contractor_id,omitempty"`
	ServiceType  string       `json:"service_type"`
	Address      string       `json:"address"`
	Lat          float64      `json:"lat"`
	Lng          float64      `json:"lng"`
	Description  string       `json:"description,omitempty"`
	Price        *moneyView   `json:"price,omitempty"`
	Deadline     *time.Time   `json:"deadline,omitempty"`
	Status       order.Status `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	AcceptedAt   *time.Time   `json:"accepted_at,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
	CancelledAt  *time.Time   `json:"cancelled_at,omitempty"`
	CancelReason *string      `json:"cancel_reason,omitempty"`
	Rating       *int         `json:"rating,omitempty"`
}

func newOrderView(o *order.Order) orderView {
	v := orderView{
		ID:           o.ID.String(),
		ClientID:     o.ClientID.String(),
		ServiceType:  o.ServiceType,
		Address:      o.Address,
		Lat:          o.Location.Lat,
		Lng:          o.Location.Lng,
		Description:  o.Description,
		Deadline:     o.Deadline,
		Status:       o.Status,
		CreatedAt:    o.CreatedAt,
		AcceptedAt:   o.AcceptedAt,
		StartedAt:    o.StartedAt,
		CompletedAt:  o.CompletedAt,
		CancelledAt:  o.CancelledAt,
		CancelReason: o.CancelReason,
		Rating:       o.Rating,
	}
	if o.ContractorID != nil {
		id := o.ContractorID.String()
		v.ContractorID = &id
	}
	if o.Price != nil {
		v.Price = &moneyView{Amount: o.Price.Amount, Currency: o.Price.Currency}
	}
	return v
}

func newOrderViews(orders []*order.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, newOrderView(o))
	}
	return out
}

func priceFromRubles(rubles *int64) *types.Money {
	if rubles == nil {
		return nil
	}
	m := types.RUB(*rubles)
	return &m
}

type profileView struct {
	Specializations []string          `json:"specializations"`
	RadiusKm        float64           `json:"radius_km"`
	Availability    user.Availability `json:"availability"`
	Rating          float64           `json:"rating"`
	RatingCount     int               `json:"rating_count"`
	Lat             *float64          `json:"lat,omitempty"`
	Lng             *float64          `json:"lng,omitempty"`
	CompletedOrders int               `json:"completed_orders"`
	TotalIncome     moneyView         `json:"total_income"`
	AverageCheck    moneyView         `json:"average_check"`
}

type userView struct {
	ID      string       `json:"id"`
	Name    string       `json:"name"`
	Phone   string       `json:"phone"`
	Role    user.Role    `json:"role"`
	Profile *profileView `json:"profile,omitempty"`
}

func newUserView(u *user.User, p *user.ContractorProfile) userView {
	v := userView{ID: u.ID.String(), Name: u.Name, Phone: u.Phone, Role: u.Role}
	if p == nil {
		return v
	}
	avg := p.AverageCheck()
	pv := &profileView{
		Specializations: p.Specializations,
		RadiusKm:        p.RadiusKm,
		Availability:    p.Availability,
		Rating:          p.Rating,
		RatingCount:     p.RatingCount,
		CompletedOrders: p.CompletedOrders,
		TotalIncome:     moneyView{Amount: p.TotalIncome.Amount, Currency: p.TotalIncome.Currency},
		AverageCheck:    moneyView{Amount: avg.Amount, Currency: avg.Currency},
	}
	if p.Zone != nil {
		pv.Lat, pv.Lng = &p.Zone.Lat, &p.Zone.Lng
	}
	v.Profile = pv
	return v
}
