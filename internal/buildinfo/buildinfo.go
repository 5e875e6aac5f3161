// Package buildinfo holds version metadata injected at link time, e.g.
//
//	go build -ldflags "-X overlay.onebusaway.org/internal/buildinfo.Version=v1.2.0"
package buildinfo

var (
	Version    = "dev"
	CommitHash = "unknown"
	Branch     = "unknown"
	BuildTime  = "unknown"
	CommitTime = "unknown"
	Dirty      = "unknown"
)

// ShortHash returns the first seven characters of CommitHash, or "unknown".
func ShortHash() string {
	if len(CommitHash) >= 7 {
		return CommitHash[:7]
	}
	return "unknown"
}
