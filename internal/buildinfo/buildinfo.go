// Package buildinfo reports the version stamped into the stepcapture binary.
package buildinfo

import "runtime/debug"

// Set with -ldflags "-X github.com/offlinefirst/stepcapture/internal/buildinfo.version=v1.2.3".
var version = "dev"

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// Version returns the ldflags version, then the module version, then "dev".
func Version() string {
	if version != "" && version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Commit returns the VCS revision recorded by the go tool, shortened to
// twelve characters and suffixed with "+dirty" for modified trees. It is
// empty when the binary was built outside a checkout.
func Commit() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	var rev string
	var dirty bool
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if len(rev) > 12 {
		rev = rev[:12]
	}
	if rev != "" && dirty {
		rev += "+dirty"
	}
	return rev
}
