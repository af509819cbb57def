// File: internal/script/fuzz_test.go
//go:build go1.18
// +build go1.18

package script_test

import (
	"testing"

	fuzz "github.com/AdaLogics/go-fuzz-headers"

	"github.com/greasewire/greasewire/internal/script"
)

// FuzzParseHeader hammers the header parser with arbitrary sources. The
// parser must never panic and must always return a usable RunAt.
func FuzzParseHeader(f *testing.F) {
	f.Add("// ==UserScript==\n// @name X\n// ==/UserScript==\n")
	f.Add("// ==UserScript==\n// @match https://*/*")
	f.Add("")
	f.Fuzz(func(t *testing.T, source string) {
		meta := script.ParseHeader(source)
		if meta.RunAt.Order() < 0 || meta.RunAt.Order() > 3 {
			t.Fatalf("ParseHeader produced out-of-range run-at %q", meta.RunAt)
		}
	})
}

// FuzzParseHeaderStructured populates a metadata struct from fuzzed bytes and
// round-trips nothing; it only asserts grant inference stays panic-free on
// arbitrary script bodies.
func FuzzParseHeaderStructured(f *testing.F) {
	f.Fuzz(func(t *testing.T, data []byte) {
		consumer := fuzz.NewConsumer(data)
		source, err := consumer.GetString()
		if err != nil {
			return
		}
		_ = script.InferGrants(source)
	})
}
