package version

import "fmt"

// Version is the current version of rtcp2p.
// This value can be overridden at build time using:
//
//	go build -ldflags="-X 'github.com/VishalHarindrakumar/rtc-p2p/internal/version.Version=v1.0.0'"
var Version = "dev"

// Commit is the source revision, set the same way as Version.
var Commit = "none"

// String returns the version line printed by `rtcp2p version`.
func String() string {
	return fmt.Sprintf("rtcp2p %s (%s)", Version, Commit)
}
