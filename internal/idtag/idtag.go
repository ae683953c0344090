// Package idtag implements the opaque (kind, row-id) handle of
// spec.md §4.1. Every externally visible row reference carries its
// type, so callers cannot accidentally compare a Storage ID to an
// Entity ID, and a distinguished zero value denotes absence.
//
// The original (Design Notes §9) packed this into a single wide
// integer plus a type tag; here it is a small tagged struct, the Go
// equivalent of a sum type over row kinds.
package idtag

import "fmt"

// Kind is the type tag of an ID. The zero value is KindNone.
type Kind uint8

const (
	KindNone Kind = iota
	KindAny
	KindUUID
	KindEntity
	KindStorage
	KindFile
	KindImage
	KindDirectory
	KindLink
	KindHardlink
	KindSpecial
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindAny:
		return "any"
	case KindUUID:
		return "uuid"
	case KindEntity:
		return "entity"
	case KindStorage:
		return "storage"
	case KindFile:
		return "file"
	case KindImage:
		return "image"
	case KindDirectory:
		return "directory"
	case KindLink:
		return "link"
	case KindHardlink:
		return "hardlink"
	case KindSpecial:
		return "special"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ID is an opaque (kind, row-id) pair. The zero value is the "none"
// handle. Fragments have no distinct kind of their own: spec.md §4.1
// says the storage kind constant is reused for fragment handles
// because fragments are always addressed through their storage row.
type ID struct {
	kind Kind
	raw  int64
}

// None is the distinguished handle denoting absence.
var None = ID{kind: KindNone}

// Any is the wildcard handle accepted by filters to mean "no restriction".
var Any = ID{kind: KindAny}

// New constructs a concrete (kind, row-id) handle. It panics if kind is
// KindNone or KindAny, which must only ever be produced via None/Any:
// a constructed handle always names a real row.
func New(kind Kind, rawID int64) ID {
	if kind == KindNone || kind == KindAny {
		panic(fmt.Sprintf("idtag: New called with sentinel kind %s", kind))
	}
	return ID{kind: kind, raw: rawID}
}

// IsNone reports whether id is the distinguished absence handle.
func (id ID) IsNone() bool { return id.kind == KindNone }

// IsAny reports whether id is the wildcard handle.
func (id ID) IsAny() bool { return id.kind == KindAny }

// Kind returns id's type tag.
func (id ID) Kind() Kind { return id.kind }

// Raw returns id's row-id component. It is 0 for None and Any.
func (id ID) Raw() int64 { return id.raw }

// Equal reports whether id and other name the same (kind, row-id) pair.
func (id ID) Equal(other ID) bool {
	return id.kind == other.kind && id.raw == other.raw
}

func (id ID) String() string {
	switch id.kind {
	case KindNone:
		return "none"
	case KindAny:
		return "any"
	default:
		return fmt.Sprintf("%s:%d", id.kind, id.raw)
	}
}

// entryKinds is the set of kinds that tag one of the six entry
// sub-kinds (file/image/directory/link/hardlink/special); Kind.IsEntryKind
// consults it.
var entryKinds = map[Kind]bool{
	KindFile:      true,
	KindImage:     true,
	KindDirectory: true,
	KindLink:      true,
	KindHardlink:  true,
	KindSpecial:   true,
}

// IsEntryKind reports whether k tags one of the six entry sub-kinds.
func (k Kind) IsEntryKind() bool { return entryKinds[k] }
