package authz

import (
	"github.com/google/uuid"

	"github.com/fonsecaaso/linkpulse/go-server/internal/model"
)

// Capability is an action a role may be granted.
type Capability int

const (
	CapCreateLink Capability = iota + 1
	CapManageOwnLinks
	CapManageAnyLink
)

// Can reports whether role holds capability. Unknown roles hold nothing.
func Can(role model.Role, capability Capability) bool {
	switch role {
	case model.RoleAdmin:
		switch capability {
		case CapCreateLink, CapManageOwnLinks, CapManageAnyLink:
			return true
		}
	case model.RoleUser:
		switch capability {
		case CapCreateLink, CapManageOwnLinks:
			return true
		case CapManageAnyLink:
			return false
		}
	}
	return false
}

// Principal is the authenticated caller. A nil *Principal is anonymous.
type Principal struct {
	UserID uuid.UUID
	Role   model.Role
}

func (p *Principal) Authenticated() bool {
	return p != nil && p.UserID != uuid.Nil
}

// Owner returns the id recorded as owner of links created by p.
func (p *Principal) Owner() *uuid.UUID {
	if !p.Authenticated() {
		return nil
	}
	id := p.UserID
	return &id
}

// CanManage reports whether p may view or mutate link. Anonymous links are
// manageable by admins only.
func (p *Principal) CanManage(link *model.ShortLink) bool {
	if !p.Authenticated() {
		return false
	}
	if Can(p.Role, CapManageAnyLink) {
		return true
	}
	return Can(p.Role, CapManageOwnLinks) && link.OwnedBy(p.UserID)
}
