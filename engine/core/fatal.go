package core

import "fmt"

// ReportFatal is the single exit point for unrecoverable errors. Release
// builds show a report to the user and exit; debug builds panic so the
// failing state stays visible to a debugger.
func ReportFatal(err error) {
	if err == nil {
		return
	}
	reportFatal(fmt.Errorf("fatal: %w", err))
}
