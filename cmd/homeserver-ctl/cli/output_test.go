// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestParseObject(t *testing.T) {
	object, err := ParseObject("content", `{
		// message body
		"msgtype": "m.text",
		"body": "hi",
	}`)
	if err != nil {
		t.Fatalf("ParseObject: %v", err)
	}
	if object["msgtype"] != "m.text" || object["body"] != "hi" {
		t.Errorf("object = %v", object)
	}

	empty, err := ParseObject("content", "  ")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("empty text = %v, %v", empty, err)
	}

	for _, bad := range []string{`[1, 2]`, `{"unterminated": `, `null`} {
		if _, err := ParseObject("content", bad); err == nil {
			t.Errorf("ParseObject(%q): expected error", bad)
		} else if !strings.HasPrefix(err.Error(), "--content") {
			t.Errorf("error %q does not name the flag", err)
		}
	}
}

func TestEmitJSON(t *testing.T) {
	var buffer bytes.Buffer
	output := JSONOutput{}
	if done, err := output.EmitJSON(&buffer, []string{"x"}); done || err != nil {
		t.Errorf("EmitJSON without --json = %v, %v", done, err)
	}
	if buffer.Len() != 0 {
		t.Errorf("wrote %q without --json", buffer.String())
	}

	output.OutputJSON = true
	var entries []string
	if done, err := output.EmitJSON(&buffer, entries); !done || err != nil {
		t.Fatalf("EmitJSON = %v, %v", done, err)
	}
	if strings.TrimSpace(buffer.String()) != "[]" {
		t.Errorf("nil slice written as %q, want []", buffer.String())
	}
}
