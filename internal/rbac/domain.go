package rbac

import (
	"time"

	"github.com/propdesk/propdesk/internal/permission"
)

// Permission is a catalog entry minted by the authority service.
type Permission struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Resource    string            `json:"resource,omitempty"`
	Action      string            `json:"action,omitempty"`
	Names       map[string]string `json:"names,omitempty"`
}

// Record converts the catalog entry into the structured record stored in sessions.
func (p Permission) Record() permission.Record {
	return permission.ObjectRecord(permission.Object{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Resource:    p.Resource,
		Action:      p.Action,
		Names:       p.Names,
	})
}

// Grant ties a permission to a user.
type Grant struct {
	UserID       int64
	PermissionID string
	GrantedBy    int64
	GrantedAt    time.Time
}

// Records converts permissions into session records, preserving order.
func Records(perms []Permission) []permission.Record {
	records := make([]permission.Record, 0, len(perms))
	for _, p := range perms {
		records = append(records, p.Record())
	}
	return records
}
