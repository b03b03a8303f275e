//go:build !unix

package proctitle

// set is a no-op on platforms where rewriting argv in place is not safe
// (e.g. Windows, where the process name shown by tools comes from the PE
// image path, not argv).
func set(title string) {}
