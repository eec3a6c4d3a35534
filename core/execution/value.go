package execution

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"go.dedis.ch/rexec/core/address"
	"golang.org/x/xerrors"
)

// Kind is the type of a value.
type Kind string

const (
	// KindAny matches any kind in a schema.
	KindAny Kind = "any"
	// KindBool is a boolean.
	KindBool Kind = "bool"
	// KindU64 is an unsigned integer.
	KindU64 Kind = "u64"
	// KindString is a text.
	KindString Kind = "string"
	// KindBytes is a byte slice.
	KindBytes Kind = "bytes"
	// KindDecimal is a decimal amount.
	KindDecimal Kind = "decimal"
	// KindAddress is the address of a global node.
	KindAddress Kind = "address"
	// KindBucket is a bucket moved with the call.
	KindBucket Kind = "bucket"
	// KindProof is a proof moved with the call.
	KindProof Kind = "proof"
	// KindIDs is a list of non-fungible identifiers.
	KindIDs Kind = "ids"
)

// Value is an argument or an output of an invocation.
type Value struct {
	kind    Kind
	b       bool
	n       uint64
	text    string
	bytes   []byte
	dec     decimal.Decimal
	node    address.NodeID
	ids     []string
	binding string
}

// Bool returns a boolean value.
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// U64 returns an integer value.
func U64(n uint64) Value {
	return Value{kind: KindU64, n: n}
}

// String returns a text value.
func String(s string) Value {
	return Value{kind: KindString, text: s}
}

// Bytes returns a byte slice value.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, bytes: b}
}

// Decimal returns a decimal value.
func Decimal(d decimal.Decimal) Value {
	return Value{kind: KindDecimal, dec: d}
}

// Address returns the value of the address of a global node.
func Address(id address.NodeID) Value {
	return Value{kind: KindAddress, node: id}
}

// Bucket returns the value of a bucket.
func Bucket(id address.NodeID) Value {
	return Value{kind: KindBucket, node: id}
}

// Proof returns the value of a proof.
func Proof(id address.NodeID) Value {
	return Value{kind: KindProof, node: id}
}

// IDs returns a list of identifiers.
func IDs(ids ...string) Value {
	return Value{kind: KindIDs, ids: ids}
}

// NamedBucket returns a reference to a bucket by its name in a manifest. It
// must be resolved before the invocation.
func NamedBucket(name string) Value {
	return Value{kind: KindBucket, binding: name}
}

// NamedProof returns a reference to a proof by its name in a manifest.
func NamedProof(name string) Value {
	return Value{kind: KindProof, binding: name}
}

// Kind returns the kind of the value.
func (v Value) Kind() Kind {
	return v.kind
}

// Binding returns the name of an unresolved bucket or proof.
func (v Value) Binding() string {
	return v.binding
}

// AsBool returns the boolean.
func (v Value) AsBool() (bool, error) {
	return v.b, v.expect(KindBool)
}

// AsU64 returns the integer.
func (v Value) AsU64() (uint64, error) {
	return v.n, v.expect(KindU64)
}

// AsString returns the text.
func (v Value) AsString() (string, error) {
	return v.text, v.expect(KindString)
}

// AsBytes returns the byte slice.
func (v Value) AsBytes() ([]byte, error) {
	return v.bytes, v.expect(KindBytes)
}

// AsDecimal returns the decimal.
func (v Value) AsDecimal() (decimal.Decimal, error) {
	return v.dec, v.expect(KindDecimal)
}

// AsAddress returns the address.
func (v Value) AsAddress() (address.NodeID, error) {
	return v.node, v.expect(KindAddress)
}

// AsBucket returns the bucket.
func (v Value) AsBucket() (address.NodeID, error) {
	return v.node, v.expect(KindBucket)
}

// AsProof returns the proof.
func (v Value) AsProof() (address.NodeID, error) {
	return v.node, v.expect(KindProof)
}

// AsIDs returns the identifiers.
func (v Value) AsIDs() ([]string, error) {
	return v.ids, v.expect(KindIDs)
}

// Node returns the node carried by an address, a bucket or a proof.
func (v Value) Node() address.NodeID {
	return v.node
}

// Resolve returns the value of a named bucket or proof bound to the node.
func (v Value) Resolve(node address.NodeID) Value {
	return Value{kind: v.kind, node: node}
}

// String implements fmt.Stringer.
func (v Value) String() string {
	var content interface{}

	switch v.kind {
	case KindBool:
		content = v.b
	case KindU64:
		content = v.n
	case KindString:
		content = fmt.Sprintf("%q", v.text)
	case KindBytes:
		content = fmt.Sprintf("%x", v.bytes)
	case KindDecimal:
		content = v.dec
	case KindIDs:
		content = v.ids
	default:
		if v.binding != "" {
			content = "$" + v.binding
		} else {
			content = v.node
		}
	}

	return fmt.Sprintf("%s(%v)", v.kind, content)
}

func (v Value) expect(kind Kind) error {
	if v.kind != kind {
		return xerrors.Errorf("expected %s, got %s: %w", kind, v.kind, ErrArgumentMismatch)
	}

	return nil
}

type valueJSON struct {
	Kind    Kind            `json:"kind"`
	Value   json.RawMessage `json:"value,omitempty"`
	Binding string          `json:"binding,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	var content interface{}

	switch v.kind {
	case KindBool:
		content = v.b
	case KindU64:
		content = v.n
	case KindString:
		content = v.text
	case KindBytes:
		content = v.bytes
	case KindDecimal:
		content = v.dec
	case KindAddress, KindBucket, KindProof:
		if v.binding == "" {
			content = v.node
		}
	case KindIDs:
		content = v.ids
	default:
		return nil, xerrors.Errorf("unknown kind '%s'", v.kind)
	}

	m := valueJSON{Kind: v.kind, Binding: v.binding}

	if content != nil {
		data, err := json.Marshal(content)
		if err != nil {
			return nil, xerrors.Errorf("failed to marshal %s: %v", v.kind, err)
		}

		m.Value = data
	}

	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	var m valueJSON

	err := json.Unmarshal(data, &m)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal value: %v", err)
	}

	*v = Value{kind: m.Kind, binding: m.Binding}

	var target interface{}

	switch m.Kind {
	case KindBool:
		target = &v.b
	case KindU64:
		target = &v.n
	case KindString:
		target = &v.text
	case KindBytes:
		target = &v.bytes
	case KindDecimal:
		target = &v.dec
	case KindAddress, KindBucket, KindProof:
		target = &v.node
	case KindIDs:
		target = &v.ids
	default:
		return xerrors.Errorf("unknown kind '%s'", m.Kind)
	}

	if len(m.Value) == 0 {
		return nil
	}

	err = json.Unmarshal(m.Value, target)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal %s: %v", m.Kind, err)
	}

	return nil
}
