package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DateTimeFormat is the layout of dateTime.iso8601 values.
const DateTimeFormat = "20060102T15:04:05"

var dateTimeLayouts = []string{DateTimeFormat, "2006-01-02T15:04:05", "20060102T15:04:05Z07:00", time.RFC3339}

// ErrUnsupportedValue is returned when a Go value has no XML-RPC encoding.
var ErrUnsupportedValue = errors.New("xmlrpc:codec - unsupported value")

type methodCall struct {
	XMLName    xml.Name   `xml:"methodCall"`
	MethodName string     `xml:"methodName"`
	Params     []xmlParam `xml:"params>param"`
}

type methodResponse struct {
	XMLName xml.Name   `xml:"methodResponse"`
	Params  []xmlParam `xml:"params>param"`
	Fault   *xmlParam  `xml:"fault"`
}

type xmlParam struct {
	Value xmlValue `xml:"value"`
}

type xmlValue struct {
	Int      *string    `xml:"int"`
	I4       *string    `xml:"i4"`
	I8       *string    `xml:"i8"`
	Boolean  *string    `xml:"boolean"`
	String   *string    `xml:"string"`
	Double   *string    `xml:"double"`
	DateTime *string    `xml:"dateTime.iso8601"`
	Base64   *string    `xml:"base64"`
	Struct   *xmlStruct `xml:"struct"`
	Array    *xmlArray  `xml:"array"`
	Nil      *struct{}  `xml:"nil"`
	Text     string     `xml:",chardata"`
}

type xmlStruct struct {
	Members []xmlMember `xml:"member"`
}

type xmlMember struct {
	Name  string   `xml:"name"`
	Value xmlValue `xml:"value"`
}

type xmlArray struct {
	Values []xmlValue `xml:"data>value"`
}

// Fault is an XML-RPC fault read from a methodResponse.
type Fault struct {
	Code    int
	Message string
}

func (f *Fault) Error() string {
	return fmt.Sprintf("xmlrpc fault %d: %s", f.Code, f.Message)
}

// DecodeCall parses a methodCall document.
func DecodeCall(data []byte) (string, []any, error) {
	var call methodCall
	if err := xml.Unmarshal(data, &call); err != nil {
		return "", nil, err
	}
	params, err := decodeParams(call.Params)
	if err != nil {
		return "", nil, err
	}
	return strings.TrimSpace(call.MethodName), params, nil
}

// DecodeResponse parses a methodResponse document. A fault is returned as a
// *Fault error.
func DecodeResponse(data []byte) (any, error) {
	var resp methodResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	if resp.Fault != nil {
		v, err := resp.Fault.Value.decode()
		if err != nil {
			return nil, err
		}
		m, _ := v.(map[string]any)
		f := &Fault{}
		switch code := m["faultCode"].(type) {
		case int:
			f.Code = code
		case int64:
			f.Code = int(code)
		}
		f.Message, _ = m["faultString"].(string)
		return nil, f
	}
	if len(resp.Params) != 1 {
		return nil, fmt.Errorf("xmlrpc:codec - expected one response param, got %d", len(resp.Params))
	}
	return resp.Params[0].Value.decode()
}

func decodeParams(ps []xmlParam) ([]any, error) {
	out := make([]any, len(ps))
	for i, p := range ps {
		v, err := p.Value.decode()
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (v *xmlValue) decode() (any, error) {
	switch {
	case v.Int != nil:
		return parseInt(*v.Int, 32)
	case v.I4 != nil:
		return parseInt(*v.I4, 32)
	case v.I8 != nil:
		i, err := strconv.ParseInt(strings.TrimSpace(*v.I8), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid i8: %w", err)
		}
		return i, nil
	case v.Boolean != nil:
		switch strings.TrimSpace(*v.Boolean) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		}
		return nil, fmt.Errorf("invalid boolean %q", *v.Boolean)
	case v.String != nil:
		return *v.String, nil
	case v.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*v.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double: %w", err)
		}
		return f, nil
	case v.DateTime != nil:
		s := strings.TrimSpace(*v.DateTime)
		for _, layout := range dateTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, nil
			}
		}
		return nil, fmt.Errorf("invalid dateTime.iso8601 %q", s)
	case v.Base64 != nil:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(*v.Base64), ""))
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	case v.Struct != nil:
		m := make(map[string]any, len(v.Struct.Members))
		for _, member := range v.Struct.Members {
			mv, err := member.Value.decode()
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", member.Name, err)
			}
			m[strings.TrimSpace(member.Name)] = mv
		}
		return m, nil
	case v.Array != nil:
		arr := make([]any, len(v.Array.Values))
		for i := range v.Array.Values {
			av, err := v.Array.Values[i].decode()
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			arr[i] = av
		}
		return arr, nil
	case v.Nil != nil:
		return nil, nil
	}
	// A value without a type element is a string.
	return v.Text, nil
}

func parseInt(s string, bits int) (any, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, bits)
	if err != nil {
		return nil, fmt.Errorf("invalid int: %w", err)
	}
	return int(i), nil
}

// EncodeCall renders a methodCall document.
func EncodeCall(method string, params ...any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&b, []byte(method)); err != nil {
		return nil, err
	}
	b.WriteString("</methodName><params>")
	enc := &encoder{b: &b}
	for i, p := range params {
		b.WriteString("<param>")
		if err := enc.value(reflect.ValueOf(p)); err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		b.WriteString("</param>")
	}
	b.WriteString("</params></methodCall>")
	return b.Bytes(), nil
}

// EncodeResponse renders a successful methodResponse holding v.
func EncodeResponse(v any) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse><params><param>")
	enc := &encoder{b: &b}
	if err := enc.value(reflect.ValueOf(v)); err != nil {
		return nil, err
	}
	b.WriteString("</param></params></methodResponse>")
	return b.Bytes(), nil
}

// EncodeFault renders a fault methodResponse.
func EncodeFault(code int, message string) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString("<methodResponse><fault>")
	// Only ints and strings: encoding cannot fail.
	enc := &encoder{b: &b}
	_ = enc.value(reflect.ValueOf(map[string]any{"faultCode": code, "faultString": message}))
	b.WriteString("</fault></methodResponse>")
	return b.Bytes()
}

var (
	timeType   = reflect.TypeOf(time.Time{})
	numberType = reflect.TypeOf(json.Number(""))
)

// encoder writes XML-RPC values. It tracks the pointers, maps and slices on
// the current path so that cyclic values fail instead of recursing forever.
type encoder struct {
	b    *bytes.Buffer
	seen map[visit]struct{}
}

type visit struct {
	ptr  uintptr
	len  int
	kind reflect.Kind
}

// enter marks v as being encoded. Values already on the path are cyclic.
func (e *encoder) enter(v reflect.Value, path *[]visit) error {
	k := visit{ptr: v.Pointer(), kind: v.Kind()}
	if k.kind == reflect.Slice {
		k.len = v.Len()
	}
	if _, ok := e.seen[k]; ok {
		return fmt.Errorf("%w: cyclic %s", ErrUnsupportedValue, v.Type())
	}
	if e.seen == nil {
		e.seen = make(map[visit]struct{})
	}
	e.seen[k] = struct{}{}
	*path = append(*path, k)
	return nil
}

func (e *encoder) value(v reflect.Value) error {
	e.b.WriteString("<value>")
	if err := e.inner(v); err != nil {
		return err
	}
	e.b.WriteString("</value>")
	return nil
}

func (e *encoder) inner(v reflect.Value) error {
	b := e.b
	var path []visit
	defer func() {
		for _, k := range path {
			delete(e.seen, k)
		}
	}()

	for v.IsValid() && (v.Kind() == reflect.Interface || v.Kind() == reflect.Pointer) {
		if v.IsNil() {
			b.WriteString("<nil/>")
			return nil
		}
		if v.Kind() == reflect.Pointer {
			if err := e.enter(v, &path); err != nil {
				return err
			}
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		b.WriteString("<nil/>")
		return nil
	}

	switch v.Type() {
	case timeType:
		fmt.Fprintf(b, "<dateTime.iso8601>%s</dateTime.iso8601>", v.Interface().(time.Time).Format(DateTimeFormat))
		return nil
	case numberType:
		n := v.Interface().(json.Number)
		if i, err := n.Int64(); err == nil {
			return e.inner(reflect.ValueOf(i))
		}
		f, err := n.Float64()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnsupportedValue, n)
		}
		return e.inner(reflect.ValueOf(f))
	}

	switch v.Kind() {
	case reflect.Bool:
		if v.Bool() {
			b.WriteString("<boolean>1</boolean>")
		} else {
			b.WriteString("<boolean>0</boolean>")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		writeInt(b, v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := v.Uint()
		if u > math.MaxInt64 {
			return fmt.Errorf("%w: %d overflows i8", ErrUnsupportedValue, u)
		}
		writeInt(b, int64(u))
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: %v", ErrUnsupportedValue, f)
		}
		fmt.Fprintf(b, "<double>%s</double>", strconv.FormatFloat(f, 'f', -1, 64))
	case reflect.String:
		b.WriteString("<string>")
		if err := xml.EscapeText(b, []byte(v.String())); err != nil {
			return err
		}
		b.WriteString("</string>")
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, v.Len())
			reflect.Copy(reflect.ValueOf(raw), v)
			fmt.Fprintf(b, "<base64>%s</base64>", base64.StdEncoding.EncodeToString(raw))
			return nil
		}
		if v.Kind() == reflect.Slice && v.Len() > 0 {
			if err := e.enter(v, &path); err != nil {
				return err
			}
		}
		b.WriteString("<array><data>")
		for i := 0; i < v.Len(); i++ {
			if err := e.value(v.Index(i)); err != nil {
				return err
			}
		}
		b.WriteString("</data></array>")
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("%w: map key %s", ErrUnsupportedValue, v.Type().Key())
		}
		if v.Len() > 0 {
			if err := e.enter(v, &path); err != nil {
				return err
			}
		}
		keys := make([]string, 0, v.Len())
		values := make(map[string]reflect.Value, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			k := iter.Key().String()
			keys = append(keys, k)
			values[k] = iter.Value()
		}
		sort.Strings(keys)
		b.WriteString("<struct>")
		for _, k := range keys {
			if err := e.member(k, values[k]); err != nil {
				return err
			}
		}
		b.WriteString("</struct>")
	case reflect.Struct:
		b.WriteString("<struct>")
		t := v.Type()
		for i := 0; i < t.NumField(); i++ {
			field := t.Field(i)
			if !field.IsExported() {
				continue
			}
			name, omitEmpty := fieldName(field)
			if name == "-" {
				continue
			}
			fv := v.Field(i)
			if omitEmpty && fv.IsZero() {
				continue
			}
			if err := e.member(name, fv); err != nil {
				return err
			}
		}
		b.WriteString("</struct>")
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedValue, v.Type())
	}
	return nil
}

func writeInt(b *bytes.Buffer, i int64) {
	if i >= math.MinInt32 && i <= math.MaxInt32 {
		fmt.Fprintf(b, "<int>%d</int>", i)
		return
	}
	fmt.Fprintf(b, "<i8>%d</i8>", i)
}

func (e *encoder) member(name string, v reflect.Value) error {
	e.b.WriteString("<member><name>")
	if err := xml.EscapeText(e.b, []byte(name)); err != nil {
		return err
	}
	e.b.WriteString("</name>")
	if err := e.value(v); err != nil {
		return err
	}
	e.b.WriteString("</member>")
	return nil
}

// fieldName follows the json tag so structs render the same way in both
// protocols.
func fieldName(f reflect.StructField) (string, bool) {
	tag := f.Tag.Get("json")
	if tag == "" {
		return f.Name, false
	}
	parts := strings.Split(tag, ",")
	name := parts[0]
	if name == "" {
		name = f.Name
	}
	omitEmpty := false
	for _, opt := range parts[1:] {
		if opt == "omitempty" {
			omitEmpty = true
		}
	}
	return name, omitEmpty
}
