package orders

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"gigescrow/core/events"
	"gigescrow/native/access"
	nativecommon "gigescrow/native/common"
)

// AccessControl answers role membership questions.
type AccessControl interface {
	HasRole(identity common.Address, role access.Role) bool
}

// RoleManager is an AccessControl whose membership can be changed.
type RoleManager interface {
	AccessControl
	Grant(identity common.Address, role access.Role) (bool, error)
	Revoke(identity common.Address, role access.Role) (bool, error)
}

// Switch is the operational kill switch.
type Switch interface {
	nativecommon.PauseView
	Pause() error
	Resume() error
}

// Observer receives per-operation outcomes and dust totals, typically to
// export metrics.
type Observer interface {
	Observe(op string, duration time.Duration, err error)
	RecordDust(currency common.Address, total *big.Int)
}

// Controller is the caller-facing entry point. It enforces role and switch
// gates and then delegates to the Engine.
type Controller struct {
	engine   *Engine
	roles    RoleManager
	sw       Switch
	observer Observer
}

// NewController wires engine with role and switch checks.
func NewController(engine *Engine, roles RoleManager, sw Switch) *Controller {
	return &Controller{engine: engine, roles: roles, sw: sw}
}

// SetObserver installs an operation observer. Nil disables observation.
func (c *Controller) SetObserver(o Observer) { c.observer = o }

// Engine exposes the underlying registry for read-only queries.
func (c *Controller) Engine() *Engine { return c.engine }

func (c *Controller) observe(op string, start time.Time, err error) {
	if c.observer == nil {
		return
	}
	c.observer.Observe(op, time.Since(start), err)
}

func (c *Controller) requireRunning(op string) error {
	if err := nativecommon.Guard(c.sw); err != nil {
		return opError(op, 0, ErrSuspended)
	}
	return nil
}

func (c *Controller) requireSuspended(op string) error {
	if err := nativecommon.GuardSuspended(c.sw); err != nil {
		return opError(op, 0, ErrRunning)
	}
	return nil
}

func (c *Controller) requireRole(op string, caller common.Address, role access.Role) error {
	if c.roles == nil || !c.roles.HasRole(caller, role) {
		return fieldError(op, 0, "caller", caller.Hex(), "role "+string(role), ErrUnauthorized)
	}
	return nil
}

func (c *Controller) CreateOrder(ctx context.Context, caller, currency common.Address, title, descriptionLink string) (order *Order, err error) {
	defer func(start time.Time) { c.observe("create", start, err) }(time.Now())
	if err = c.requireRunning("create"); err != nil {
		return nil, err
	}
	return c.engine.CreateOrder(ctx, caller, currency, title, descriptionLink)
}

func (c *Controller) StartOrderExecution(ctx context.Context, caller common.Address, id uint64, contractor common.Address, deadline int64, price, attached *big.Int) (order *Order, err error) {
	defer func(start time.Time) { c.observe("start", start, err) }(time.Now())
	if err = c.requireRunning("start"); err != nil {
		return nil, err
	}
	return c.engine.StartOrderExecution(ctx, caller, id, contractor, deadline, price, attached)
}

func (c *Controller) ApproveOrder(ctx context.Context, caller common.Address, id uint64) (order *Order, err error) {
	defer func(start time.Time) { c.observe("approve", start, err) }(time.Now())
	if err = c.requireRunning("approve"); err != nil {
		return nil, err
	}
	return c.engine.ApproveOrder(ctx, caller, id)
}

func (c *Controller) CancelOrderByCustomer(ctx context.Context, caller common.Address, id uint64) (order *Order, err error) {
	defer func(start time.Time) { c.observe("cancel", start, err) }(time.Now())
	if err = c.requireRunning("cancel"); err != nil {
		return nil, err
	}
	return c.engine.CancelOrderByCustomer(ctx, caller, id)
}

// JudgeOrder requires the adjudicator role.
func (c *Controller) JudgeOrder(ctx context.Context, caller common.Address, id uint64, contractorPercent, customerPercent uint64) (order *Order, err error) {
	defer func(start time.Time) { c.observe("judge", start, err) }(time.Now())
	if err = c.requireRunning("judge"); err != nil {
		return nil, err
	}
	if err = c.requireRole("judge", caller, access.RoleAdjudicator); err != nil {
		return nil, err
	}
	order, err = c.engine.JudgeOrder(ctx, id, contractorPercent, customerPercent)
	if err == nil && c.observer != nil {
		c.observer.RecordDust(order.Currency, c.engine.RetainedDust(order.Currency))
	}
	return order, err
}

// UpdateOrderContractor requires the adjudicator role.
func (c *Controller) UpdateOrderContractor(ctx context.Context, caller common.Address, id uint64, contractor common.Address) (order *Order, err error) {
	defer func(start time.Time) { c.observe("update-contractor", start, err) }(time.Now())
	if err = c.requireRunning("update-contractor"); err != nil {
		return nil, err
	}
	if err = c.requireRole("update-contractor", caller, access.RoleAdjudicator); err != nil {
		return nil, err
	}
	return c.engine.UpdateOrderContractor(ctx, id, contractor)
}

func (c *Controller) AddPaymentToken(ctx context.Context, caller, currency common.Address) (err error) {
	defer func(start time.Time) { c.observe("add-payment-token", start, err) }(time.Now())
	if err = c.requireRole("add-payment-token", caller, access.RoleAdmin); err != nil {
		return err
	}
	return c.engine.AddPaymentToken(ctx, currency)
}

func (c *Controller) RemovePaymentToken(ctx context.Context, caller, currency common.Address) (err error) {
	defer func(start time.Time) { c.observe("remove-payment-token", start, err) }(time.Now())
	if err = c.requireRole("remove-payment-token", caller, access.RoleAdmin); err != nil {
		return err
	}
	return c.engine.RemovePaymentToken(ctx, currency)
}

func (c *Controller) SetFeePercent(ctx context.Context, caller common.Address, percent uint64) (err error) {
	defer func(start time.Time) { c.observe("set-fee-percent", start, err) }(time.Now())
	if err = c.requireRole("set-fee-percent", caller, access.RoleAdmin); err != nil {
		return err
	}
	return c.engine.SetFeePercent(ctx, percent)
}

func (c *Controller) SetFeeReceiver(ctx context.Context, caller, receiver common.Address) (err error) {
	defer func(start time.Time) { c.observe("set-fee-receiver", start, err) }(time.Now())
	if err = c.requireRole("set-fee-receiver", caller, access.RoleAdmin); err != nil {
		return err
	}
	return c.engine.SetFeeReceiver(ctx, receiver)
}

// EmergencyWithdraw requires the admin role and a suspended system.
func (c *Controller) EmergencyWithdraw(ctx context.Context, caller, currency, to common.Address, amount *big.Int) (err error) {
	defer func(start time.Time) { c.observe("emergency-withdraw", start, err) }(time.Now())
	if err = c.requireRole("emergency-withdraw", caller, access.RoleAdmin); err != nil {
		return err
	}
	if err = c.requireSuspended("emergency-withdraw"); err != nil {
		return err
	}
	return c.engine.EmergencyWithdraw(ctx, currency, to, amount)
}

// Pause suspends every running-only operation.
func (c *Controller) Pause(caller common.Address) (err error) {
	defer func(start time.Time) { c.observe("pause", start, err) }(time.Now())
	if err = c.requireRole("pause", caller, access.RoleAdmin); err != nil {
		return err
	}
	if err = c.sw.Pause(); err != nil {
		return opError("pause", 0, switchError(err))
	}
	c.engine.emit(events.SystemSwitched{Actor: caller, Paused: true})
	return nil
}

// Resume returns the system to running.
func (c *Controller) Resume(caller common.Address) (err error) {
	defer func(start time.Time) { c.observe("resume", start, err) }(time.Now())
	if err = c.requireRole("resume", caller, access.RoleAdmin); err != nil {
		return err
	}
	if err = c.sw.Resume(); err != nil {
		return opError("resume", 0, switchError(err))
	}
	c.engine.emit(events.SystemSwitched{Actor: caller, Paused: false})
	return nil
}

// GrantRole adds identity to role. Granting an existing membership is a
// silent no-op.
func (c *Controller) GrantRole(caller, identity common.Address, role access.Role) (err error) {
	defer func(start time.Time) { c.observe("grant-role", start, err) }(time.Now())
	if err = c.requireRole("grant-role", caller, access.RoleAdmin); err != nil {
		return err
	}
	changed, err := c.roles.Grant(identity, role)
	if err != nil {
		return fieldError("grant-role", 0, "role", string(role), "", roleError(err))
	}
	if changed {
		c.engine.emit(events.RoleChanged{Identity: identity, Role: string(role)})
	}
	return nil
}

// RevokeRole removes identity from role.
func (c *Controller) RevokeRole(caller, identity common.Address, role access.Role) (err error) {
	defer func(start time.Time) { c.observe("revoke-role", start, err) }(time.Now())
	if err = c.requireRole("revoke-role", caller, access.RoleAdmin); err != nil {
		return err
	}
	changed, err := c.roles.Revoke(identity, role)
	if err != nil {
		return fieldError("revoke-role", 0, "role", string(role), "", roleError(err))
	}
	if changed {
		c.engine.emit(events.RoleChanged{Identity: identity, Role: string(role), Revoked: true})
	}
	return nil
}

// IsRunning reports the switch state.
func (c *Controller) IsRunning() bool { return c.sw.IsRunning() }

// HasRole reports whether identity holds role.
func (c *Controller) HasRole(identity common.Address, role access.Role) bool {
	return c.roles != nil && c.roles.HasRole(identity, role)
}

func switchError(err error) error {
	switch {
	case errors.Is(err, nativecommon.ErrModulePaused):
		return ErrSuspended
	case errors.Is(err, nativecommon.ErrModuleRunning):
		return ErrRunning
	default:
		return err
	}
}

func roleError(err error) error {
	if errors.Is(err, access.ErrUnknownRole) || errors.Is(err, access.ErrZeroIdentity) {
		return ErrInvalidArgument
	}
	return err
}
