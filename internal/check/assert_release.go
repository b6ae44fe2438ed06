//go:build !debug

// Package check holds assertions that only fire in binaries built with the
// debug tag.
package check

func Assert(bool, string) {}

func Assertf(bool, string, ...any) {}
