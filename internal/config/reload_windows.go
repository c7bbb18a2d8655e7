//go:build windows

package config

// registerSignalHandler is a no-op on Windows; the file watcher alone
// drives reloads there.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("SIGHUP reload unavailable on windows", "path", r.path)
}
