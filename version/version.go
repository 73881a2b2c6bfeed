package version

import (
	"fmt"
	"runtime"
)

// Set at build time via -ldflags "-X".
var (
	NAME     = "appslot"
	VERSION  = "unknown"
	REVISION = "HEAD"
	BUILTAT  = "now"
)

// String returns the multi-line version banner.
func String() string {
	v := ""
	v += fmt.Sprintf("Version:        %s\n", VERSION)
	v += fmt.Sprintf("Git hash:       %s\n", REVISION)
	v += fmt.Sprintf("Built:          %s\n", BUILTAT)
	v += fmt.Sprintf("Golang version: %s\n", runtime.Version())
	v += fmt.Sprintf("OS/Arch:        %s/%s\n", runtime.GOOS, runtime.GOARCH)
	return v
}
