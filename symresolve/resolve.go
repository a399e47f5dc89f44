// Package symresolve resolves a captured program counter to an
// optional {file, line, symbol} triple.
//
// Resolution runs entirely in-process against the running binary's own
// symbol table via runtime.CallersFrames, resolving against the live
// process image rather than an offline ELF/DWARF file.
package symresolve

import (
	"regexp"
	"runtime"

	"github.com/ianlancetaylor/demangle"
)

// Frame is a resolved stack frame. Any field may be the zero value if
// resolution yielded no usable data for it; callers treat a Frame with
// an empty Symbol as unresolved.
type Frame struct {
	File   string
	Line   int
	Symbol string
}

// itaniumMangled approximates whether a symbol name looks like an
// Itanium C++ ABI mangled name (as would appear on a frame that
// crossed from Go into a C++ shim through cgo). Go's own exported
// runtime symbol names are never mangled this way, so this is purely
// a fallback path for cgo-originated frames.
var itaniumMangled = regexp.MustCompile(`^_Z[0-9A-Za-z_]+$`)

// Resolve resolves a single program counter as captured by
// backtrace.Capture (which stores runtime.Callers' return addresses
// directly, the form runtime.CallersFrames expects). It returns ok ==
// false if the runtime has no function metadata for pc at all.
func Resolve(pc uintptr) (Frame, bool) {
	frames := runtime.CallersFrames([]uintptr{pc})
	rf, _ := frames.Next()
	if rf.Func == nil && rf.Function == "" {
		return Frame{}, false
	}

	sym := rf.Function
	if itaniumMangled.MatchString(sym) {
		sym = demangle.Filter(sym)
	}

	return Frame{
		File:   rf.File,
		Line:   rf.Line,
		Symbol: sym,
	}, true
}

// Usable reports whether f carries a complete {file, line, symbol}
// triple. A frame missing any of the three is treated as absent.
func (f Frame) Usable() bool {
	return f.File != "" && f.Line != 0 && f.Symbol != ""
}
