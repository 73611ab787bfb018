// Package monitoring carries the diagnostic logging hook shared by the
// survey pipeline packages. Libraries log through Logf instead of the
// global logger so a host can redirect or silence their chatter.
package monitoring

import "log"

// Logf emits one diagnostic line. It defaults to log.Printf.
var Logf = log.Printf

// SetLogger redirects Logf. A nil f silences the package loggers.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}
