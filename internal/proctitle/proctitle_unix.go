//go:build unix

package proctitle

import (
	"os"
	"unsafe"
)

// set overwrites the bytes backing os.Args[0] in place, the same technique
// the original implementation used on argv (minus relocating environ,
// which Go's runtime does not expose). The Go runtime does not copy
// argv[0]'s backing bytes out of the process's original argument vector,
// so writing through this slice is visible to ps/proc without
// re-executing. Titles longer than the original argv[0] are truncated.
func set(title string) {
	if len(os.Args) == 0 || len(os.Args[0]) == 0 {
		return
	}
	argv0 := os.Args[0]
	data := unsafe.Slice(unsafe.StringData(argv0), len(argv0))

	n := copy(data, title)
	for i := n; i < len(data); i++ {
		data[i] = 0
	}
}
