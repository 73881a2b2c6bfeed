package utils

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
)

// VerifyProcess reports whether pid is alive and its argv[0] has the given base name.
// Guards against signaling a recycled PID that now belongs to another program.
func VerifyProcess(pid int, name string) bool {
	if !IsProcessAlive(pid) {
		return false
	}
	cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil || len(cmdline) == 0 {
		return false
	}
	argv0, _, _ := bytes.Cut(cmdline, []byte{0})
	return filepath.Base(string(argv0)) == name
}
