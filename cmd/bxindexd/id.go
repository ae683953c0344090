package main

import (
	"fmt"
	"strconv"

	"github.com/duskvault/bxindex/internal/idtag"
	"github.com/duskvault/bxindex/internal/model"
)

// parseID turns a bare row-id argument into an idtag.ID of the given
// kind. The argument is the raw integer the schema stores, not the
// "kind:n" form that idtag.ID.String produces.
func parseID(s string, kind idtag.Kind) (idtag.ID, error) {
	raw, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return idtag.None, fmt.Errorf("%q is not a valid %s id: %w", s, kind, err)
	}
	return idtag.New(kind, raw), nil
}

// parseStorageState maps --state's human-readable values to
// model.StorageState, the way the teacher's flag parsers translate a
// string flag into an internal enum rather than exposing raw ints.
func parseStorageState(s string) (model.StorageState, error) {
	switch s {
	case "create":
		return model.StorageStateCreate, nil
	case "update_requested":
		return model.StorageStateUpdateRequested, nil
	case "update":
		return model.StorageStateUpdate, nil
	case "ok":
		return model.StorageStateOK, nil
	case "error":
		return model.StorageStateError, nil
	default:
		return model.StorageStateNone, fmt.Errorf("unknown state %q (want create, update_requested, update, ok, or error)", s)
	}
}
