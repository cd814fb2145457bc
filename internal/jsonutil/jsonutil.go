// Package jsonutil prints RPC replies for the command line client.
package jsonutil

import (
	"bytes"
	"encoding/json"
	"reflect"

	"github.com/fatih/structs"
	"github.com/hokaccha/go-prettyjson"
)

// MarshalFields writes one "Name: value" line for each exported field of the struct v, in declaration order.
// Nested structs are flattened as "Parent.Child". Values are JSON, colored unless color is false.
func MarshalFields(v any, color bool) ([]byte, error) {
	f := prettyjson.NewFormatter()
	f.Indent = 0
	f.Newline = ""
	f.DisabledColor = !color
	var buf bytes.Buffer
	if err := writeFields(&buf, f, "", structs.Fields(v)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeFields(buf *bytes.Buffer, f *prettyjson.Formatter, prefix string, fields []*structs.Field) error {
	for _, field := range fields {
		if !field.IsExported() {
			continue
		}
		name := prefix + field.Name()
		val := field.Value()
		if _, ok := val.(json.Marshaler); !ok && field.Kind() == reflect.Struct {
			if err := writeFields(buf, f, name+".", field.Fields()); err != nil {
				return err
			}
			continue
		}
		b, err := f.Marshal(val)
		if err != nil {
			return err
		}
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return nil
}
