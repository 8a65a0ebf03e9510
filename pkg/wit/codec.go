package wit

import "encoding/json"

// wireValue is the JSON-on-the-wire shape of a Value. The router marshals
// and unmarshals invocation arguments/results through this form rather than
// Go's default struct encoding, so the wire payload only ever carries the
// fields relevant to its Kind instead of the full Value struct.
type wireValue struct {
	Kind string `json:"kind"`

	Bool  *bool    `json:"bool,omitempty"`
	Int   *int64   `json:"int,omitempty"`
	Uint  *uint64  `json:"uint,omitempty"`
	Float *float64 `json:"float,omitempty"`
	Char  *rune    `json:"char,omitempty"`
	Str   *string  `json:"str,omitempty"`

	List []wireValue `json:"list,omitempty"`

	FieldNames []string    `json:"field_names,omitempty"`
	Fields     []wireValue `json:"fields,omitempty"`

	CaseName string     `json:"case_name,omitempty"`
	CaseVal  *wireValue `json:"case_val,omitempty"`

	EnumCase string `json:"enum_case,omitempty"`

	Some *wireValue `json:"some,omitempty"`

	Ok    *wireValue `json:"ok,omitempty"`
	Err   *wireValue `json:"err,omitempty"`
	OkSet bool       `json:"ok_set,omitempty"`

	Flags []string `json:"flags,omitempty"`

	Handle        *uint32 `json:"handle,omitempty"`
	ResourceBytes []byte  `json:"resource_bytes,omitempty"`
}

// Encode walks v and produces its wire-transportable JSON encoding. This is
// the reflective encoder referred to by the router: it never special-cases
// a particular WIT type at compile time, it only switches on v.Kind.
func Encode(v Value) ([]byte, error) {
	return json.Marshal(toWire(v))
}

// Decode is the inverse of Encode.
func Decode(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return Value{}, err
	}
	return fromWire(w), nil
}

func toWire(v Value) wireValue {
	w := wireValue{Kind: v.Kind.String()}
	switch v.Kind {
	case KindBool:
		w.Bool = &v.Bool
	case KindS8, KindS16, KindS32, KindS64:
		w.Int = &v.Int
	case KindU8, KindU16, KindU32, KindU64:
		w.Uint = &v.Uint
	case KindF32, KindF64:
		w.Float = &v.Float
	case KindChar:
		w.Char = &v.Char
	case KindString:
		w.Str = &v.Str
	case KindList:
		w.List = toWireList(v.List)
	case KindRecord:
		w.FieldNames = v.FieldNames
		w.Fields = toWireList(v.Fields)
	case KindTuple:
		w.Fields = toWireList(v.Fields)
	case KindVariant:
		w.CaseName = v.CaseName
		if v.CaseVal != nil {
			cw := toWire(*v.CaseVal)
			w.CaseVal = &cw
		}
	case KindEnum:
		w.EnumCase = v.EnumCase
	case KindOption:
		if v.Some != nil {
			sw := toWire(*v.Some)
			w.Some = &sw
		}
	case KindResult:
		w.OkSet = v.OkSet
		if v.Ok != nil {
			ow := toWire(*v.Ok)
			w.Ok = &ow
		}
		if v.Err != nil {
			ew := toWire(*v.Err)
			w.Err = &ew
		}
	case KindFlags:
		w.Flags = v.Flags
	case KindOwn, KindBorrow:
		w.Handle = &v.Handle
		w.ResourceBytes = v.ResourceBytes
	}
	return w
}

func toWireList(vals []Value) []wireValue {
	if vals == nil {
		return nil
	}
	out := make([]wireValue, len(vals))
	for i, v := range vals {
		out[i] = toWire(v)
	}
	return out
}

func fromWire(w wireValue) Value {
	v := Value{Kind: kindFromString(w.Kind)}
	switch v.Kind {
	case KindBool:
		if w.Bool != nil {
			v.Bool = *w.Bool
		}
	case KindS8, KindS16, KindS32, KindS64:
		if w.Int != nil {
			v.Int = *w.Int
		}
	case KindU8, KindU16, KindU32, KindU64:
		if w.Uint != nil {
			v.Uint = *w.Uint
		}
	case KindF32, KindF64:
		if w.Float != nil {
			v.Float = *w.Float
		}
	case KindChar:
		if w.Char != nil {
			v.Char = *w.Char
		}
	case KindString:
		if w.Str != nil {
			v.Str = *w.Str
		}
	case KindList:
		v.List = fromWireList(w.List)
	case KindRecord:
		v.FieldNames = w.FieldNames
		v.Fields = fromWireList(w.Fields)
	case KindTuple:
		v.Fields = fromWireList(w.Fields)
	case KindVariant:
		v.CaseName = w.CaseName
		if w.CaseVal != nil {
			cv := fromWire(*w.CaseVal)
			v.CaseVal = &cv
		}
	case KindEnum:
		v.EnumCase = w.EnumCase
	case KindOption:
		if w.Some != nil {
			sv := fromWire(*w.Some)
			v.Some = &sv
		}
	case KindResult:
		v.OkSet = w.OkSet
		if w.Ok != nil {
			ov := fromWire(*w.Ok)
			v.Ok = &ov
		}
		if w.Err != nil {
			ev := fromWire(*w.Err)
			v.Err = &ev
		}
	case KindFlags:
		v.Flags = w.Flags
	case KindOwn, KindBorrow:
		if w.Handle != nil {
			v.Handle = *w.Handle
		}
		v.ResourceBytes = w.ResourceBytes
	}
	return v
}

func fromWireList(vals []wireValue) []Value {
	if vals == nil {
		return nil
	}
	out := make([]Value, len(vals))
	for i, w := range vals {
		out[i] = fromWire(w)
	}
	return out
}

var kindNames = map[string]Kind{
	"bool": KindBool, "s8": KindS8, "u8": KindU8, "s16": KindS16, "u16": KindU16,
	"s32": KindS32, "u32": KindU32, "s64": KindS64, "u64": KindU64,
	"f32": KindF32, "f64": KindF64, "char": KindChar, "string": KindString,
	"list": KindList, "record": KindRecord, "tuple": KindTuple,
	"variant": KindVariant, "enum": KindEnum, "option": KindOption,
	"result": KindResult, "flags": KindFlags, "own": KindOwn, "borrow": KindBorrow,
}

func kindFromString(s string) Kind {
	return kindNames[s]
}

// EncodeArgs/DecodeArgs are convenience wrappers for an invocation's
// parameter or result list.
func EncodeArgs(vals []Value) ([]byte, error) {
	return json.Marshal(toWireList(vals))
}

func DecodeArgs(data []byte) ([]Value, error) {
	var ws []wireValue
	if err := json.Unmarshal(data, &ws); err != nil {
		return nil, err
	}
	return fromWireList(ws), nil
}
