package shared

import (
	"sort"

	"github.com/propdesk/propdesk/internal/permission"
)

// Scope keys used by route guards. Each maps to a catalog descriptor that
// carries the canonical id minted by the authority service plus the English
// and Indonesian display names.
const (
	PermStaffView   = "staff.view"
	PermStaffCreate = "staff.create"
	PermStaffEdit   = "staff.edit"
	PermStaffDelete = "staff.delete"

	PermResidentsView = "residents.view"
	PermResidentsEdit = "residents.edit"

	PermTicketsView   = "tickets.view"
	PermTicketsCreate = "tickets.create"
	PermTicketsAssign = "tickets.assign"
	PermTicketsClose  = "tickets.close"

	PermBillingView   = "billing.view"
	PermBillingCreate = "billing.create"
	PermBillingVoid   = "billing.void"

	PermAnnouncementsView    = "announcements.view"
	PermAnnouncementsPublish = "announcements.publish"

	PermPermissionsView  = "permissions.view"
	PermPermissionsGrant = "permissions.grant"
)

var coreScopes = map[string]permission.Descriptor{
	PermStaffView:   permission.Describe("0d6f1b9e-4c2a-4f0e-9a1d-3e5b7c9d1f20", "View Staff", "Lihat Staf"),
	PermStaffCreate: permission.Describe("1a7e2c0f-5d3b-4a1f-8b2e-4f6c8d0e2a31", "Create Staff", "Buat Staf"),
	PermStaffEdit:   permission.Describe("2b8f3d1a-6e4c-4b2a-9c3f-5a7d9e1f3b42", "Edit Staff", "Ubah Staf"),
	PermStaffDelete: permission.Describe("3c9a4e2b-7f5d-4c3b-8d4a-6b8e0f2a4c53", "Delete Staff", "Hapus Staf"),

	PermResidentsView: permission.Describe("4d0b5f3c-8a6e-4d4c-9e5b-7c9f1a3b5d64", "View Residents", "Lihat Penghuni"),
	PermResidentsEdit: permission.Describe("5e1c6a4d-9b7f-4e5d-8f6c-8d0a2b4c6e75", "Edit Residents", "Ubah Penghuni"),

	PermTicketsView:   permission.Describe("6f2d7b5e-0c8a-4f6e-9a7d-9e1b3c5d7f86", "View Tickets", "Lihat Tiket"),
	PermTicketsCreate: permission.Describe("7a3e8c6f-1d9b-4a7f-8b8e-0f2c4d6e8a97", "Create Tickets", "Buat Tiket"),
	PermTicketsAssign: permission.Describe("8b4f9d7a-2e0c-4b8a-9c9f-1a3d5e7f9ba8", "Assign Tickets", "Tugaskan Tiket"),
	PermTicketsClose:  permission.Describe("9c5a0e8b-3f1d-4c9b-8d0a-2b4e6f8a0cb9", "Close Tickets", "Tutup Tiket"),

	PermBillingView:   permission.Describe("ad6b1f9c-4a2e-4dac-9e1b-3c5f7a9b1dca", "View Billing", "Lihat Tagihan"),
	PermBillingCreate: permission.Describe("be7c2a0d-5b3f-4ebd-8f2c-4d6a8b0c2edb", "Create Billing", "Buat Tagihan"),
	PermBillingVoid:   permission.Describe("cf8d3b1e-6c4a-4fce-9a3d-5e7b9c1d3fec", "Void Billing", "Batalkan Tagihan"),

	PermAnnouncementsView:    permission.Describe("d09e4c2f-7d5b-4adf-8b4e-6f8c0d2e4afd", "View Announcements", "Lihat Pengumuman"),
	PermAnnouncementsPublish: permission.Describe("e1af5d3a-8e6c-4be0-9c5f-7a9d1e3f5b0e", "Publish Announcements", "Terbitkan Pengumuman"),

	PermPermissionsView:  permission.Describe("f2b06e4b-9f7d-4cf1-8d6a-8b0e2f4a6c1f", "View Permissions", "Lihat Izin"),
	PermPermissionsGrant: permission.Describe("03c17f5c-0a8e-4d02-9e7b-9c1f3a5b7d20", "Grant Permissions", "Berikan Izin"),
}

// LookupScope returns the catalog descriptor registered under key.
func LookupScope(key string) (permission.Descriptor, bool) {
	d, ok := coreScopes[key]
	return d, ok
}

// MustScope returns the catalog descriptor for key and panics when the key is
// not registered. Intended for route wiring at startup.
func MustScope(key string) permission.Descriptor {
	d, ok := coreScopes[key]
	if !ok {
		panic("shared: unknown permission scope " + key)
	}
	return d
}

// CoreScopes lists all scope keys in stable order.
func CoreScopes() []string {
	keys := make([]string, 0, len(coreScopes))
	for k := range coreScopes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
