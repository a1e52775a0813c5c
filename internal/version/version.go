package version

import (
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// Заполняются при сборке: -ldflags "-X .../internal/version.version=v1.4.0".
var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build описывает собранный бинарник.
type Build struct {
	Version   string
	Commit    string
	Date      string
	GoVersion string
}

// Current возвращает сведения о сборке. Коммит и дата, не заданные через
// ldflags, берутся из VCS-меток, которые go build пишет в бинарник.
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withBuildInfo(info)
	}
	if b.Commit == "" {
		b.Commit = "unknown"
	}
	if b.Date == "" {
		b.Date = "unknown"
	}
	return b
}

func (b Build) withBuildInfo(info *debug.BuildInfo) Build {
	b.GoVersion = info.GoVersion
	if b.Commit != "" && b.Date != "" {
		return b
	}
	var revision, at string
	dirty := false
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			at = s.Value
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}
	if b.Commit == "" && revision != "" {
		b.Commit = revision
		if dirty {
			b.Commit += "-dirty"
		}
	}
	if b.Date == "" {
		b.Date = at
	}
	return b
}

// Version возвращает версию сборки (отдаётся в /healthz).
func Version() string { return version }

// Fields возвращает поля сборки для стартового лога.
func Fields() log.Fields {
	b := Current()
	return log.Fields{"version": b.Version, "commit": b.Commit, "build_date": b.Date, "go": b.GoVersion}
}
