package idparser

import (
	"fmt"
	"strings"
)

// LibraryPrefix namespaces the IDs minted for library catalog items so they
// never collide with external identifiers. It contains a dot on purpose:
// external IDs never do, so the prefix alone identifies a library ID.
const LibraryPrefix = "aiostreams.library"

// LibraryID identifies an item inside a debrid service's library, and
// optionally a single file within that item.
type LibraryID struct {
	ServiceID string
	Kind      string // "torrent" or "usenet"
	ItemID    string
	FileID    string // file index or name, empty for the item itself
}

// IsLibraryID reports whether id was minted by EncodeLibraryID.
func IsLibraryID(id string) bool {
	return strings.HasPrefix(id, LibraryPrefix+".")
}

// EncodeLibraryID mints the external form
// "<prefix>.<serviceId>.<kind>.<itemId>[:<fileId>]".
func EncodeLibraryID(l LibraryID) string {
	id := LibraryPrefix + "." + l.ServiceID + "." + l.Kind + "." + l.ItemID
	if l.FileID != "" {
		id += ":" + l.FileID
	}
	return id
}

// ParseLibraryID decodes an ID minted by EncodeLibraryID. The item ID may
// itself contain dots, so splitting is anchored on the fixed prefix and the
// two fields that follow it.
func ParseLibraryID(id string) (LibraryID, error) {
	if !IsLibraryID(id) {
		return LibraryID{}, fmt.Errorf("Couldn't parse library ID %q: missing prefix", id)
	}
	rest := strings.TrimPrefix(id, LibraryPrefix+".")

	var fileID string
	if idx := strings.LastIndex(rest, ":"); idx >= 0 {
		fileID = rest[idx+1:]
		rest = rest[:idx]
	}

	parts := strings.SplitN(rest, ".", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return LibraryID{}, fmt.Errorf("Couldn't parse library ID %q: expected service, kind and item", id)
	}
	return LibraryID{
		ServiceID: parts[0],
		Kind:      parts[1],
		ItemID:    parts[2],
		FileID:    fileID,
	}, nil
}
