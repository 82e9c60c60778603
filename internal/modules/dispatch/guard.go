// README: Permission guards, one per coordinator action. They compare the
// caller's role and id with the order; the store re-checks atomically.
package dispatch

import (
	"drillflow/internal/modules/order"
	"drillflow/internal/modules/user"
)

func requireRole(u *user.User, role user.Role) error {
	if !u.Active || u.Role != role {
		return order.ErrForbidden
	}
	return nil
}

func guardCreate(u *user.User) error {
	return requireRole(u, user.RoleClient)
}

func guardAccept(u *user.User) error {
	return requireRole(u, user.RoleContractor)
}

func guardDecline(u *user.User) error {
	return requireRole(u, user.RoleContractor)
}

func guardStart(u *user.User, o *order.Order) error {
	if err := requireRole(u, user.RoleContractor); err != nil {
		return err
	}
	if o.ContractorID == nil {
		return order.ErrInvalidState
	}
	if !o.AssignedTo(u.ID) {
		return order.ErrForbidden
	}
	return nil
}

// guardCancel also picks the actor the transition is recorded under.
func guardCancel(u *user.User, o *order.Order) (order.Actor, error) {
	if !u.Active {
		return order.Actor{}, order.ErrForbidden
	}
	switch u.Role {
	case user.RoleClient:
		if o.ClientID != u.ID {
			return order.Actor{}, order.ErrForbidden
		}
		return order.Client(u.ID), nil
	case user.RoleContractor:
		if !o.AssignedTo(u.ID) {
			return order.Actor{}, order.ErrForbidden
		}
		return order.Contractor(u.ID), nil
	case user.RoleAdmin:
		return order.System(), nil
	}
	return order.Actor{}, order.ErrForbidden
}

func guardComplete(u *user.User, o *order.Order) error {
	if err := requireRole(u, user.RoleContractor); err != nil {
		return err
	}
	if o.ContractorID == nil {
		return order.ErrInvalidState
	}
	if !o.AssignedTo(u.ID) {
		return order.ErrForbidden
	}
	return nil
}

func guardRate(u *user.User, o *order.Order) error {
	if err := requireRole(u, user.RoleClient); err != nil {
		return err
	}
	if o.ClientID != u.ID {
		return order.ErrForbidden
	}
	return nil
}

func guardView(u *user.User, o *order.Order) error {
	if !u.Active {
		return order.ErrForbidden
	}
	if u.Role == user.RoleAdmin || o.ClientID == u.ID || o.AssignedTo(u.ID) {
		return nil
	}
	return order.ErrForbidden
}

// guardContractorSelf covers the contractor's own settings: location,
// availability and nearby search.
func guardContractorSelf(u *user.User) error {
	return requireRole(u, user.RoleContractor)
}
