package config

import (
	"path/filepath"

	"github.com/projecteru2/appslot/utils"
)

// Per-slot runtime files live in a hidden directory inside the app working directory
// so that a slot can be moved or removed as a single tree.
const slotRunDir = ".slot"

// EnsureSlotDirs creates the runtime directory of the slot rooted at workDir.
func EnsureSlotDirs(workDir string) error {
	return utils.EnsureDirs(SlotRunDir(workDir))
}

func SlotRunDir(workDir string) string { return filepath.Join(workDir, slotRunDir) }

// SlotIndexFile and SlotIndexLock are the instance record store paths.
func SlotIndexFile(workDir string) string { return filepath.Join(SlotRunDir(workDir), "instance.json") }
func SlotIndexLock(workDir string) string { return filepath.Join(SlotRunDir(workDir), "instance.lock") }

func SlotSocketPath(workDir string) string { return filepath.Join(SlotRunDir(workDir), "api.sock") }
func SlotPIDFile(workDir string) string    { return filepath.Join(SlotRunDir(workDir), "app.pid") }

// SlotProcessLog returns the file receiving the hosted process stdout and stderr.
func SlotProcessLog(workDir string) string { return filepath.Join(SlotRunDir(workDir), "app.log") }

// IsSlotRunPath reports whether name is the runtime directory entry of a working directory.
func IsSlotRunPath(name string) bool { return name == slotRunDir }
