// Package permission resolves whether a session holds a required permission.
//
// Grants arrive in several shapes: a bare canonical id, a bare display name,
// or a structured object carrying an id, a name and locale-specific names.
// Normalize reduces each shape to a KeySet; IsAuthorized scans a record set
// and allows when any record matches the descriptor by id or by name. Names
// compare case-insensitively with hyphens, underscores and spaces treated as
// the same separator.
//
// A Store holds one session's records behind Load, Replace and Clear, and
// publishes every change on its Bus so live consumers can re-evaluate without
// reloading:
//
//	bus := permission.NewBus()
//	store := permission.NewStore(bus, backing)
//	store.Load(ctx)
//
//	h := bus.Subscribe(func() {
//	    visible := store.IsAuthorized(staffCreate)
//	    _ = visible
//	})
//	defer bus.Unsubscribe(h)
//
// Unknown or unloaded state always denies.
package permission
