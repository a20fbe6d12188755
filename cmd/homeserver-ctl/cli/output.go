// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/tidwall/jsonc"
)

// JSONOutput adds a --json flag to a params struct.
//
//	type showParams struct {
//	    cli.Connection
//	    cli.JSONOutput
//	}
//
//	if done, err := params.EmitJSON(out, result); done {
//	    return err
//	}
type JSONOutput struct {
	OutputJSON bool `flag:"json" desc:"output as JSON"`
}

// EmitJSON writes result to w as indented JSON when --json is set and
// reports whether it did. A nil slice is written as [].
func (j *JSONOutput) EmitJSON(w io.Writer, result any) (bool, error) {
	if !j.OutputJSON {
		return false, nil
	}
	return true, WriteJSON(w, normalizeNilSlice(result))
}

// WriteJSON writes value to w as indented JSON.
func WriteJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func normalizeNilSlice(value any) any {
	v := reflect.ValueOf(value)
	if v.Kind() == reflect.Slice && v.IsNil() {
		return reflect.MakeSlice(v.Type(), 0, 0).Interface()
	}
	return value
}

// ParseObject parses a JSON object given on the command line. Comments
// and trailing commas are accepted. An empty string is an empty
// object.
func ParseObject(flagName, text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return map[string]any{}, nil
	}
	var object map[string]any
	if err := json.Unmarshal(jsonc.ToJSON([]byte(text)), &object); err != nil {
		return nil, fmt.Errorf("--%s: %w", flagName, err)
	}
	if object == nil {
		return nil, fmt.Errorf("--%s: expected a JSON object", flagName)
	}
	return object, nil
}
