package errors

import (
	"github.com/certifi/gocertifi"
	"github.com/getsentry/sentry-go"
	"moff.io/moff-login/pkg/log"
	"os"
	"sync"
)

// setting this environment variable disables reporting
const debugMode = "DEBUG"

var (
	reportersMu sync.RWMutex
	reporters   []Reporter
)

// Reporter receives every error built by an *AndReport helper.
type Reporter interface {
	Report(error)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(error)

func (f ReporterFunc) Report(err error) { f(err) }

// AddReporter registers r for all later reports.
func AddReporter(r Reporter) {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = append(reporters, r)
}

// ResetReporters drops every registered reporter.
func ResetReporters() {
	reportersMu.Lock()
	defer reportersMu.Unlock()
	reporters = nil
}

// ReportingEnabled tells whether reports leave the process.
func ReportingEnabled() bool {
	return os.Getenv(debugMode) == ""
}

func report(err error) {
	if err == nil || !ReportingEnabled() {
		return
	}
	reportersMu.RLock()
	rs := make([]Reporter, len(reporters))
	copy(rs, reporters)
	reportersMu.RUnlock()
	for _, r := range rs {
		r.Report(err)
	}
}

type sentryReporter struct{}

func (s *sentryReporter) Report(err error) {
	sentry.CaptureException(err)
}

// NewSentryReporter initialises the Sentry client and registers it as a
// reporter. An empty DSN skips initialisation.
func NewSentryReporter(sentryDSN string) error {
	if sentryDSN == "" {
		log.Warn("empty DSN found, skipping sentry reporter initialization.")
		return nil
	}
	rootCAs, err := gocertifi.CACerts()
	if err != nil {
		return Wrap(err, "init sentry CA")
	}
	err = sentry.Init(sentry.ClientOptions{
		Dsn:     sentryDSN,
		CaCerts: rootCAs,
	})
	if err != nil {
		return Wrap(err, "init sentry")
	}
	AddReporter(&sentryReporter{})
	log.Info("sentry error reporter initialized.")
	return nil
}
