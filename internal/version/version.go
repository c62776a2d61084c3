package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// BuildVersion is set with -ldflags "-X .../internal/version.BuildVersion=v1.2.3".
var BuildVersion = ""

const develVersion = "0.0.0-dev"

type Info struct {
	Major      string `json:"major"`
	Minor      string `json:"minor"`
	Patch      string `json:"patch"`
	PreRelease string `json:"prerelease"`
	Meta       string `json:"meta"`
	GitVersion string `json:"gitVersion"`
	GitCommit  string `json:"gitCommit"`
	BuildDate  string `json:"buildDate"`
	GoVersion  string `json:"goVersion"`
	Compiler   string `json:"compiler"`
	Platform   string `json:"platform"`
}

// Get returns the version of the running binary.
func Get() (Info, error) {
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return Info{}, fmt.Errorf("could not read build info")
	}
	return FromBuildInfo(bi, BuildVersion)
}

// FromBuildInfo derives Info from bi. A non-empty override replaces the
// module version; development builds report 0.0.0-dev.
func FromBuildInfo(bi *debug.BuildInfo, override string) (Info, error) {
	raw := bi.Main.Version
	if override != "" {
		raw = override
	}
	if raw == "" || raw == "(devel)" {
		raw = develVersion
	}
	v, err := semver.NewVersion(raw)
	if err != nil {
		return Info{}, fmt.Errorf("could not parse version %q: %w", raw, err)
	}

	info := Info{
		Major:      strconv.FormatUint(v.Major(), 10),
		Minor:      strconv.FormatUint(v.Minor(), 10),
		Patch:      strconv.FormatUint(v.Patch(), 10),
		PreRelease: v.Prerelease(),
		Meta:       strings.TrimPrefix(v.Metadata(), "+"),
		GitVersion: v.Original(),
		GoVersion:  bi.GoVersion,
		Compiler:   runtime.Compiler,
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			info.GitCommit = s.Value
		case "vcs.time":
			info.BuildDate = s.Value
		}
	}
	return info, nil
}
