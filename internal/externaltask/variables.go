package externaltask

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/kjstillabower/external-task-worker/internal/engine"
)

// Variable type names used by the engine.
const (
	TypeString  = "String"
	TypeBoolean = "Boolean"
	TypeInteger = "Integer"
	TypeShort   = "Short"
	TypeLong    = "Long"
	TypeDouble  = "Double"
	TypeDate    = "Date"
	TypeBytes   = "Bytes"
	TypeJSON    = "Json"
	TypeNull    = "Null"
	TypeObject  = "Object"
)

const (
	// DefaultDateFormat matches the engine's default "yyyy-MM-dd'T'HH:mm:ss.SSSZ".
	DefaultDateFormat = "2006-01-02T15:04:05.000-0700"
	// SerializationFormatJSON is the only supported Object serialization format.
	SerializationFormatJSON = "application/json"
)

var (
	ErrVariableNotFound = errors.New("variable not fetched")
	ErrVariableType     = errors.New("variable has unexpected type")
	ErrVariableDecode   = errors.New("variable cannot be decoded")
)

// Variables maps variable names to plain Go values. Types are inferred on send:
// string, bool, int/int32 (Integer, or Long when an int exceeds 32 bits),
// int16 (Short), int64 (Long), float32/64 (Double), time.Time (Date),
// []byte (Bytes), json.RawMessage (Json), nil (Null), TypedValue as given,
// anything else as a JSON-serialized Object.
type Variables map[string]interface{}

// TypedValue pins a variable to an explicit engine type.
type TypedValue struct {
	Type      string
	Value     interface{}
	ValueInfo map[string]interface{}
}

// ObjectValue is a serialized Object variable as delivered by the engine.
type ObjectValue struct {
	TypeName            string
	SerializationFormat string
	Serialized          string
}

// Decode unmarshals the serialized JSON payload into out.
func (o ObjectValue) Decode(out interface{}) error {
	if o.SerializationFormat != "" && o.SerializationFormat != SerializationFormatJSON {
		return fmt.Errorf("unsupported serialization format %q", o.SerializationFormat)
	}
	return json.Unmarshal([]byte(o.Serialized), out)
}

// variableCodec converts between Go values and engine typed values.
type variableCodec struct {
	dateFormat          string
	serializationFormat string
}

func (c variableCodec) encodeAll(vars Variables) (map[string]engine.VariableValue, error) {
	if len(vars) == 0 {
		return nil, nil
	}
	out := make(map[string]engine.VariableValue, len(vars))
	for name, v := range vars {
		ev, err := c.encode(v)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", name, err)
		}
		out[name] = ev
	}
	return out, nil
}

func (c variableCodec) encode(v interface{}) (engine.VariableValue, error) {
	switch val := v.(type) {
	case TypedValue:
		return c.encodeTyped(val)
	case nil:
		return engine.VariableValue{Type: TypeNull, Value: json.RawMessage("null")}, nil
	case string:
		return rawValue(TypeString, val)
	case bool:
		return rawValue(TypeBoolean, val)
	case int:
		if val < math.MinInt32 || val > math.MaxInt32 {
			return rawValue(TypeLong, val)
		}
		return rawValue(TypeInteger, val)
	case int32:
		return rawValue(TypeInteger, val)
	case int16:
		return rawValue(TypeShort, val)
	case int64:
		return rawValue(TypeLong, val)
	case float32:
		return rawValue(TypeDouble, val)
	case float64:
		return rawValue(TypeDouble, val)
	case time.Time:
		return rawValue(TypeDate, val.Format(c.dateLayout()))
	case []byte:
		return rawValue(TypeBytes, base64.StdEncoding.EncodeToString(val))
	case json.RawMessage:
		return rawValue(TypeJSON, string(val))
	default:
		return c.encodeObject(val)
	}
}

func (c variableCodec) encodeTyped(tv TypedValue) (engine.VariableValue, error) {
	if tv.Type == "" {
		return c.encode(tv.Value)
	}
	ev, err := rawValue(tv.Type, tv.Value)
	if err != nil {
		return ev, err
	}
	ev.ValueInfo = tv.ValueInfo
	return ev, nil
}

func (c variableCodec) encodeObject(v interface{}) (engine.VariableValue, error) {
	format := c.serializationFormat
	if format == "" {
		format = SerializationFormatJSON
	}
	if format != SerializationFormatJSON {
		return engine.VariableValue{}, fmt.Errorf("unsupported serialization format %q", format)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return engine.VariableValue{}, fmt.Errorf("serialize object: %w", err)
	}
	ev, err := rawValue(TypeObject, string(payload))
	if err != nil {
		return ev, err
	}
	ev.ValueInfo = map[string]interface{}{
		"objectTypeName":          reflect.TypeOf(v).String(),
		"serializationDataFormat": format,
	}
	return ev, nil
}

func rawValue(typ string, v interface{}) (engine.VariableValue, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return engine.VariableValue{}, fmt.Errorf("encode %s value: %w", typ, err)
	}
	return engine.VariableValue{Type: typ, Value: raw}, nil
}

// decodeAll decodes every variable. A value that cannot be decoded is kept
// as its raw JSON and its error is returned under the variable name.
func (c variableCodec) decodeAll(vars map[string]engine.VariableValue) (Variables, map[string]error) {
	out := make(Variables, len(vars))
	var failed map[string]error
	for name, ev := range vars {
		v, err := c.decode(ev)
		if err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[name] = fmt.Errorf("%w: %q (%s): %v", ErrVariableDecode, name, ev.Type, err)
			out[name] = append(json.RawMessage(nil), ev.Value...)
			continue
		}
		out[name] = v
	}
	return out, failed
}

func (c variableCodec) decode(ev engine.VariableValue) (interface{}, error) {
	if len(ev.Value) == 0 || string(ev.Value) == "null" {
		return nil, nil
	}
	switch ev.Type {
	case TypeNull:
		return nil, nil
	case TypeString:
		return unmarshalAs[string](ev.Value)
	case TypeBoolean:
		return unmarshalAs[bool](ev.Value)
	case TypeInteger:
		return unmarshalAs[int](ev.Value)
	case TypeShort:
		return unmarshalAs[int16](ev.Value)
	case TypeLong:
		return unmarshalAs[int64](ev.Value)
	case TypeDouble:
		return unmarshalAs[float64](ev.Value)
	case TypeDate:
		var s string
		if err := json.Unmarshal(ev.Value, &s); err != nil {
			return nil, err
		}
		return time.Parse(c.dateLayout(), s)
	case TypeBytes:
		var s string
		if err := json.Unmarshal(ev.Value, &s); err != nil {
			return nil, err
		}
		return base64.StdEncoding.DecodeString(s)
	case TypeJSON:
		var s string
		if err := json.Unmarshal(ev.Value, &s); err != nil {
			// Some engines inline the JSON document instead of a string.
			return append(json.RawMessage(nil), ev.Value...), nil
		}
		return json.RawMessage(s), nil
	case TypeObject:
		var s string
		if err := json.Unmarshal(ev.Value, &s); err != nil {
			return nil, fmt.Errorf("object value is not serialized: %w", err)
		}
		obj := ObjectValue{Serialized: s}
		if name, ok := ev.ValueInfo["objectTypeName"].(string); ok {
			obj.TypeName = name
		}
		if format, ok := ev.ValueInfo["serializationDataFormat"].(string); ok {
			obj.SerializationFormat = format
		}
		return obj, nil
	default:
		return append(json.RawMessage(nil), ev.Value...), nil
	}
}

func unmarshalAs[T any](raw json.RawMessage) (interface{}, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c variableCodec) dateLayout() string {
	if c.dateFormat == "" {
		return DefaultDateFormat
	}
	return c.dateFormat
}
