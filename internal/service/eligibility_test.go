package service

import (
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"

	"github.com/iliyamo/auction-bidding/internal/model"
)

func TestRegistrationLifecycle(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	uid := f.user(t, model.RoleUser)

	notes := "first time bidder"
	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, &notes)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationPending, reg.Status)
	assert.NotNil(t, reg.ClientNotes)
	check.Equal(t, notes, *reg.ClientNotes)

	_, err = f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	check.Equal(t, CodeAlreadyPending, code(err))

	internal := "documents verified"
	reg, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, &internal)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationApproved, reg.Status)

	_, err = f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	check.Equal(t, CodeAlreadyApproved, code(err))

	reg, err = f.Eligibility.Cancel(f.ctx, uid, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationCanceled, reg.Status)

	_, err = f.Eligibility.Cancel(f.ctx, uid, a.ID)
	check.Equal(t, CodeAlreadyCanceled, code(err))

	// canceling never starts a cooldown
	reg, err = f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationPending, reg.Status)
	check.Equal(t, notes, *reg.ClientNotes)
}

func TestRegistrationCooldown(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, func(in *AuctionInput) {
		in.RegistrationWaitValue = 5
		in.RegistrationWaitUnit = model.WaitMinutes
	})
	uid := f.user(t, model.RoleUser)

	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)

	f.clock.set(time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC))
	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, false, nil)
	assert.NoError(t, err)

	f.clock.set(time.Date(2025, 3, 1, 10, 3, 0, 0, time.UTC))
	_, err = f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	de, ok := AsError(err)
	assert.True(t, ok)
	check.Equal(t, CodeCooldownActive, de.Code)
	assert.NotNil(t, de.RetryAt)
	check.True(t, de.RetryAt.Equal(time.Date(2025, 3, 1, 10, 5, 0, 0, time.UTC)))

	stored, err := f.Eligibility.Get(f.ctx, uid, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationRejected, stored.Status)

	f.clock.set(time.Date(2025, 3, 1, 10, 6, 0, 0, time.UTC))
	reg, err = f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationPending, reg.Status)
}

func TestRegistrationDecideTransitions(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	uid := f.user(t, model.RoleUser)

	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)
	reg, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, false, nil)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationRejected, reg.Status)

	// rejected can be approved directly by an administrator
	reg, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, nil)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationApproved, reg.Status)

	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, nil)
	check.Equal(t, CodeInvalidTransition, code(err))

	_, err = f.Eligibility.Cancel(f.ctx, uid, a.ID)
	assert.NoError(t, err)
	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, false, nil)
	check.Equal(t, CodeInvalidTransition, code(err))

	reg, err = f.Eligibility.Reopen(f.ctx, f.admin, uid, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationPending, reg.Status)

	_, err = f.Eligibility.Reopen(f.ctx, f.admin, uid, a.ID)
	check.Equal(t, CodeInvalidTransition, code(err))
}

func TestRegistrationDecideRequiresStoredAdminRole(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	uid := f.user(t, model.RoleUser)
	other := f.user(t, model.RoleUser)

	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)

	_, err = f.Eligibility.Decide(f.ctx, other, reg.ID, true, nil)
	check.Equal(t, CodeForbidden, code(err))
	_, err = f.Eligibility.Decide(f.ctx, 0, reg.ID, true, nil)
	check.Equal(t, CodeNotAuthenticated, code(err))

	stored, err := f.Eligibility.Get(f.ctx, uid, a.ID)
	assert.NoError(t, err)
	check.Equal(t, model.RegistrationPending, stored.Status)
}

func TestRegistrationUnknownAuction(t *testing.T) {
	f := newFixture(t)
	uid := f.user(t, model.RoleUser)

	_, err := f.Eligibility.Request(f.ctx, uid, 999, nil)
	check.Equal(t, CodeNotFound, code(err))
	_, err = f.Eligibility.Get(f.ctx, uid, 999)
	check.Equal(t, CodeNotFound, code(err))
	_, err = f.Eligibility.Request(f.ctx, 0, 999, nil)
	check.Equal(t, CodeNotAuthenticated, code(err))
}

func TestRegistrationPublishesEvents(t *testing.T) {
	f := newFixture(t)
	a := f.auction(t, nil)
	uid := f.user(t, model.RoleUser)
	f.events.reset()

	reg, err := f.Eligibility.Request(f.ctx, uid, a.ID, nil)
	assert.NoError(t, err)
	_, err = f.Eligibility.Decide(f.ctx, f.admin, reg.ID, true, nil)
	assert.NoError(t, err)

	check.Equal(t, []string{"auction_registrations.INSERT", "auction_registrations.UPDATE"}, f.events.keys())
}
