// Package rpccmd implements spec.md §6's forwarded command grammar:
// `OP key=value key=%'quoted-string' …`, used when a caller holds a
// slave handle and a mutation or read has to be forwarded as text to a
// master process's I/O channel.
//
// Grounded on the teacher's internal/rpc/protocol.go Operation string
// constants (Op<Name> = "op_name"), generalized from the teacher's
// JSON request/response envelope into the typed key=value grammar
// spec.md §6 and Design Notes §9 call for ("replace with a typed
// command enum and a structured encoder/decoder") — the wire text
// itself follows the spec over the teacher's JSON choice, the Op*
// naming idiom is what carries over.
package rpccmd

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/duskvault/bxindex/internal/idtag"
)

// Operation names every forwardable command spec.md §6 lists.
type Operation string

const (
	OpFindStorageByID     Operation = "find_storage_by_id"
	OpFindStorageByName   Operation = "find_storage_by_name"
	OpFindStorageByState  Operation = "find_storage_by_state"
	OpListStorages        Operation = "list_storages"
	OpListEntries         Operation = "list_entries"
	OpListFragments       Operation = "list_fragments"
	OpCountAggregates     Operation = "count_aggregates"
	OpSumAggregates       Operation = "sum_aggregates"
	OpListEntriesByType   Operation = "list_entries_by_type"
	OpGetStorageState     Operation = "get_storage_state"
	OpNewStorage          Operation = "new_storage"
	OpUpdateStorage       Operation = "update_storage"
	OpAddEntry            Operation = "add_entry"
	OpAddSkippedEntry     Operation = "add_skipped_entry"
	OpClearStorage        Operation = "clear_storage"
	OpPurgeStorage        Operation = "purge_storage"
	OpPurgeAllByID        Operation = "purge_all_by_id"
	OpPurgeAllByName      Operation = "purge_all_by_name"
	OpSetStorageState     Operation = "set_storage_state"
)

// ValueKind tags Value's active member.
type ValueKind int

const (
	KindString ValueKind = iota
	KindInt
	KindBool
	KindID
)

// Value is the grammar's argument sum type: a string, an integer, a
// bool, or a tagged identifier (spec.md §6: "Identifiers round-trip as
// tagged integers").
type Value struct {
	kind ValueKind
	str  string
	num  int64
	b    bool
	id   idtag.ID
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// IntValue wraps n.
func IntValue(n int64) Value { return Value{kind: KindInt, num: n} }

// BoolValue wraps b.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IDValue wraps id.
func IDValue(id idtag.ID) Value { return Value{kind: KindID, id: id} }

// Kind returns v's active member tag.
func (v Value) Kind() ValueKind { return v.kind }

// String returns v's string payload; only meaningful when Kind() == KindString.
func (v Value) String() string { return v.str }

// Int returns v's integer payload; only meaningful when Kind() == KindInt.
func (v Value) Int() int64 { return v.num }

// Bool returns v's bool payload; only meaningful when Kind() == KindBool.
func (v Value) Bool() bool { return v.b }

// ID returns v's identifier payload; only meaningful when Kind() == KindID.
func (v Value) ID() idtag.ID { return v.id }

// Command is one forwarded operation plus its named arguments.
type Command struct {
	Op   Operation
	Args map[string]Value
}

// New builds a Command with an empty argument map.
func New(op Operation) Command {
	return Command{Op: op, Args: map[string]Value{}}
}

var kindNames = map[idtag.Kind]string{
	idtag.KindUUID:      "uuid",
	idtag.KindEntity:    "entity",
	idtag.KindStorage:   "storage",
	idtag.KindFile:      "file",
	idtag.KindImage:     "image",
	idtag.KindDirectory: "directory",
	idtag.KindLink:      "link",
	idtag.KindHardlink:  "hardlink",
	idtag.KindSpecial:   "special",
}

var namesToKind = func() map[string]idtag.Kind {
	m := make(map[string]idtag.Kind, len(kindNames))
	for k, name := range kindNames {
		m[name] = k
	}
	return m
}()

// Encode renders cmd as `OP key=value key=%'quoted-string' …`. Keys
// are sorted for a deterministic wire form. String values are always
// quoted with `%'...'`, single quotes inside are doubled; int, bool,
// and id values are rendered as bare tokens.
func Encode(cmd Command) string {
	keys := make([]string, 0, len(cmd.Args))
	for k := range cmd.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(string(cmd.Op))
	for _, k := range keys {
		b.WriteByte(' ')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(encodeValue(cmd.Args[k]))
	}
	return b.String()
}

func encodeValue(v Value) string {
	switch v.kind {
	case KindString:
		return "%'" + strings.ReplaceAll(v.str, "'", "''") + "'"
	case KindInt:
		return strconv.FormatInt(v.num, 10)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindID:
		if v.id.IsNone() {
			return "none"
		}
		if v.id.IsAny() {
			return "any"
		}
		name, ok := kindNames[v.id.Kind()]
		if !ok {
			name = v.id.Kind().String()
		}
		return name + ":" + strconv.FormatInt(v.id.Raw(), 10)
	default:
		return ""
	}
}

// Decode parses wire text produced by Encode back into a Command.
func Decode(text string) (Command, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return Command{}, err
	}
	if len(tokens) == 0 {
		return Command{}, fmt.Errorf("rpccmd: decode: empty command")
	}
	cmd := New(Operation(tokens[0]))
	for _, tok := range tokens[1:] {
		key, raw, ok := strings.Cut(tok, "=")
		if !ok {
			return Command{}, fmt.Errorf("rpccmd: decode: malformed argument %q", tok)
		}
		v, err := decodeValue(raw)
		if err != nil {
			return Command{}, fmt.Errorf("rpccmd: decode: argument %q: %w", key, err)
		}
		cmd.Args[key] = v
	}
	return cmd, nil
}

func decodeValue(raw string) (Value, error) {
	switch {
	case strings.HasPrefix(raw, "%'") && strings.HasSuffix(raw, "'") && len(raw) >= 3:
		unquoted := strings.ReplaceAll(raw[2:len(raw)-1], "''", "'")
		return StringValue(unquoted), nil
	case raw == "true":
		return BoolValue(true), nil
	case raw == "false":
		return BoolValue(false), nil
	case raw == "none":
		return IDValue(idtag.None), nil
	case raw == "any":
		return IDValue(idtag.Any), nil
	default:
		if kindName, numStr, ok := strings.Cut(raw, ":"); ok {
			if kind, known := namesToKind[kindName]; known {
				n, err := strconv.ParseInt(numStr, 10, 64)
				if err != nil {
					return Value{}, fmt.Errorf("invalid id %q: %w", raw, err)
				}
				return IDValue(idtag.New(kind, n)), nil
			}
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("invalid bare token %q", raw)
		}
		return IntValue(n), nil
	}
}

// tokenize splits text on unquoted whitespace, treating `%'...'` spans
// (with `''` as an escaped quote) as a single token.
func tokenize(text string) ([]string, error) {
	var tokens []string
	i := 0
	n := len(text)
	for i < n {
		for i < n && text[i] == ' ' {
			i++
		}
		if i >= n {
			break
		}
		start := i
		for i < n && text[i] != ' ' {
			if strings.HasPrefix(text[i:], "%'") {
				i += 2
				for i < n {
					if text[i] == '\'' {
						if i+1 < n && text[i+1] == '\'' {
							i += 2
							continue
						}
						i++
						break
					}
					i++
				}
				continue
			}
			i++
		}
		tokens = append(tokens, text[start:i])
	}
	return tokens, nil
}
