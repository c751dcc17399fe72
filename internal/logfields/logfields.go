// Package logfields centralizes canonical slog field names so log keys do
// not drift across packages.
package logfields

import "log/slog"

const (
	KeyProject    = "project"
	KeyVersion    = "version"
	KeyBuildID    = "build_id"
	KeyPhase      = "phase"
	KeyFormat     = "format"
	KeyProvider   = "provider"
	KeyEvent      = "event"
	KeyCommand    = "command"
	KeyExitCode   = "exit_code"
	KeyDurationMS = "duration_ms"
	KeyPath       = "path"
	KeyURL        = "url"
	KeyError      = "error"
)

// Simple helpers returning slog.Attr. Keeping each granular means callers can compose.
func Project(slug string) slog.Attr   { return slog.String(KeyProject, slug) }
func Version(slug string) slog.Attr   { return slog.String(KeyVersion, slug) }
func BuildID(id string) slog.Attr     { return slog.String(KeyBuildID, id) }
func Phase(name string) slog.Attr     { return slog.String(KeyPhase, name) }
func Format(f string) slog.Attr       { return slog.String(KeyFormat, f) }
func Provider(p string) slog.Attr     { return slog.String(KeyProvider, p) }
func Event(e string) slog.Attr        { return slog.String(KeyEvent, e) }
func Command(c string) slog.Attr      { return slog.String(KeyCommand, c) }
func ExitCode(code int) slog.Attr     { return slog.Int(KeyExitCode, code) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func URL(u string) slog.Attr          { return slog.String(KeyURL, u) }

func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
