package authz

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

func TestCan(t *testing.T) {
	testCases := []struct {
		name       string
		role       model.Role
		capability Capability
		expected   bool
	}{
		{"user creates", model.RoleUser, CapCreateLink, true},
		{"user manages own", model.RoleUser, CapManageOwnLinks, true},
		{"user cannot manage any", model.RoleUser, CapManageAnyLink, false},
		{"admin creates", model.RoleAdmin, CapCreateLink, true},
		{"admin manages own", model.RoleAdmin, CapManageOwnLinks, true},
		{"admin manages any", model.RoleAdmin, CapManageAnyLink, true},
		{"unknown role", model.Role(99), CapCreateLink, false},
		{"zero role", model.Role(0), CapManageOwnLinks, false},
		{"unknown capability", model.RoleAdmin, Capability(99), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, Can(tc.role, tc.capability))
		})
	}
}

func TestPrincipal_CanManage(t *testing.T) {
	owner := uuid.New()
	stranger := uuid.New()
	owned := &model.ShortLink{Code: "abc123", OwnerID: &owner}
	anonymous := &model.ShortLink{Code: "anon01"}

	var nobody *Principal
	user := &Principal{UserID: owner, Role: model.RoleUser}
	other := &Principal{UserID: stranger, Role: model.RoleUser}
	admin := &Principal{UserID: stranger, Role: model.RoleAdmin}

	assert.True(t, user.CanManage(owned))
	assert.False(t, other.CanManage(owned))
	assert.True(t, admin.CanManage(owned))

	assert.False(t, user.CanManage(anonymous))
	assert.True(t, admin.CanManage(anonymous))

	assert.False(t, nobody.CanManage(owned))
	assert.False(t, (&Principal{Role: model.RoleAdmin}).CanManage(owned), "admin without identity")
}

func TestPrincipal_Owner(t *testing.T) {
	var nobody *Principal
	assert.Nil(t, nobody.Owner())
	assert.False(t, nobody.Authenticated())

	id := uuid.New()
	p := &Principal{UserID: id, Role: model.RoleUser}
	assert.Equal(t, id, *p.Owner())
	assert.True(t, p.Authenticated())
}
