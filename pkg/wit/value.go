// Package wit implements a runtime-typed value model for the WebAssembly
// Interface Types the component engine exchanges across the polyfill
// boundary. The router never sees static Go types for a guest's imports;
// it only ever walks this tagged union, driven by the function's runtime
// signature.
package wit

import "fmt"

// Kind identifies which component-model primitive a Value holds.
type Kind int

const (
	KindBool Kind = iota
	KindS8
	KindU8
	KindS16
	KindU16
	KindS32
	KindU32
	KindS64
	KindU64
	KindF32
	KindF64
	KindChar
	KindString
	KindList
	KindRecord
	KindTuple
	KindVariant
	KindEnum
	KindOption
	KindResult
	KindFlags
	KindOwn
	KindBorrow
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindS8:
		return "s8"
	case KindU8:
		return "u8"
	case KindS16:
		return "s16"
	case KindU16:
		return "u16"
	case KindS32:
		return "s32"
	case KindU32:
		return "u32"
	case KindS64:
		return "s64"
	case KindU64:
		return "u64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindChar:
		return "char"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindRecord:
		return "record"
	case KindTuple:
		return "tuple"
	case KindVariant:
		return "variant"
	case KindEnum:
		return "enum"
	case KindOption:
		return "option"
	case KindResult:
		return "result"
	case KindFlags:
		return "flags"
	case KindOwn:
		return "own"
	case KindBorrow:
		return "borrow"
	default:
		return "unknown"
	}
}

// Value is a single runtime-typed WIT value. Exactly the fields relevant to
// Kind are populated; the rest are left at their zero value. This mirrors
// the component engine's runtime-typed Val, translated from the original
// Rust enum into Go's static-typing idiom via a Kind-tagged struct rather
// than re-growing an interface-based visitor per primitive.
type Value struct {
	Kind Kind

	Bool   bool
	Int    int64  // s8..s64
	Uint   uint64 // u8..u64
	Float  float64
	Char   rune
	Str    string

	List []Value

	// Record/Tuple: field order as declared by the WIT type.
	FieldNames []string // empty for Tuple
	Fields     []Value

	// Variant: exactly one case is active.
	CaseName string
	CaseVal  *Value // nil if the case carries no payload

	// Enum: the selected case name, no payload.
	EnumCase string

	// Option: Some holds the payload when present.
	Some *Value

	// Result: exactly one of Ok/Err is set; OkSet disambiguates a
	// nil-payload ok/err from "neither branch set".
	Ok    *Value
	Err   *Value
	OkSet bool

	// Flags: the set of currently-raised flag names.
	Flags []string

	// Own/Borrow: an opaque resource handle. Local resources keep their
	// native identity in Handle; resources crossing the lattice are
	// represented as opaque bytes in ResourceBytes instead.
	Handle        uint32
	ResourceBytes []byte
}

// Bool builds a KindBool value.
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }

// SignedInt builds a signed integer value of the given Kind (KindS8..KindS64).
func SignedInt(k Kind, v int64) Value { return Value{Kind: k, Int: v} }

// UnsignedInt builds an unsigned integer value of the given Kind (KindU8..KindU64).
func UnsignedInt(k Kind, v uint64) Value { return Value{Kind: k, Uint: v} }

// F32 builds a KindF32 value.
func F32(v float32) Value { return Value{Kind: KindF32, Float: float64(v)} }

// F64 builds a KindF64 value.
func F64(v float64) Value { return Value{Kind: KindF64, Float: v} }

// String builds a KindString value.
func String(v string) Value { return Value{Kind: KindString, Str: v} }

// List builds a KindList value.
func List(items ...Value) Value { return Value{Kind: KindList, List: items} }

// Record builds a KindRecord value from parallel field-name/value slices.
func Record(names []string, values []Value) Value {
	return Value{Kind: KindRecord, FieldNames: names, Fields: values}
}

// Tuple builds a KindTuple value.
func Tuple(values ...Value) Value {
	return Value{Kind: KindTuple, Fields: values}
}

// Variant builds a KindVariant value. payload may be nil for a unit case.
func Variant(caseName string, payload *Value) Value {
	return Value{Kind: KindVariant, CaseName: caseName, CaseVal: payload}
}

// Enum builds a KindEnum value.
func Enum(caseName string) Value { return Value{Kind: KindEnum, EnumCase: caseName} }

// None builds a KindOption value with no payload.
func None() Value { return Value{Kind: KindOption} }

// SomeValue builds a KindOption value carrying a payload.
func SomeValue(v Value) Value { return Value{Kind: KindOption, Some: &v} }

// ResultOk builds a KindResult ok value. v may be nil for result<_, E>.
func ResultOk(v *Value) Value { return Value{Kind: KindResult, Ok: v, OkSet: true} }

// ResultErr builds a KindResult err value. v may be nil for result<T, _>.
func ResultErr(v *Value) Value { return Value{Kind: KindResult, Err: v, OkSet: false} }

// FlagsValue builds a KindFlags value.
func FlagsValue(names ...string) Value { return Value{Kind: KindFlags, Flags: names} }

// Own builds a KindOwn resource handle value.
func Own(handle uint32) Value { return Value{Kind: KindOwn, Handle: handle} }

// Borrow builds a KindBorrow resource handle value.
func Borrow(handle uint32) Value { return Value{Kind: KindBorrow, Handle: handle} }

// AsResourceBytes returns the opaque byte representation used when an
// own/borrow handle crosses the lattice to a different host.
func (v Value) AsResourceBytes() []byte { return v.ResourceBytes }

// TypeMismatch is returned by encoders/decoders when a value's Kind does not
// match what the runtime signature expected.
type TypeMismatch struct {
	Want Kind
	Got  Kind
}

func (e *TypeMismatch) Error() string {
	return fmt.Sprintf("wit: type mismatch: want %s, got %s", e.Want, e.Got)
}
