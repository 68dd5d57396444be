// Package version хранит сведения о сборке lessonbook, заданные через -ldflags:
//
//	-X github.com/vladislavdragonenkov/lessonbook/internal/version.version=v1.2.0
package version

import (
	"fmt"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build — сведения о сборке бинарника.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию сборки для health-check.
func GetVersion() string { return version }

func (b Build) String() string {
	return fmt.Sprintf("lessonbook %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}

// Fields — поля сборки для стартовой записи в лог.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version": b.Version,
		"commit":  b.Commit,
		"built":   b.Date,
	}
}
