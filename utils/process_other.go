//go:build !linux

package utils

// VerifyProcess reports whether pid is alive. Without procfs the program name
// cannot be checked cheaply, so name is ignored.
func VerifyProcess(pid int, _ string) bool {
	return IsProcessAlive(pid)
}
