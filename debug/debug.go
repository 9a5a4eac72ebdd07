// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: debug.go — Cold-path diagnostic logging
//
// Purpose:
//   - Logs infrequent events: schedule swaps, first drops, handler errors.
//   - Routes through the process slog logger installed by main.
//
// Notes:
//   - Prefix becomes the slog "tag" attribute so output stays greppable.
//   - Logger is swappable for tests via SetLogger.
//
// ⚠️ Never invoke in per-packet loops; failure diagnostics only.
// ─────────────────────────────────────────────────────────────────────────────

package debug

import (
	"log/slog"
	"sync/atomic"
)

var logger atomic.Pointer[slog.Logger]

// SetLogger replaces the diagnostic sink. nil restores slog.Default.
func SetLogger(l *slog.Logger) {
	logger.Store(l)
}

func current() *slog.Logger {
	if l := logger.Load(); l != nil {
		return l
	}
	return slog.Default()
}

// DropError logs err under prefix at error level. A nil err logs the prefix
// alone at warn level (used as a tagged warning).
func DropError(prefix string, err error) {
	if err != nil {
		current().Error(err.Error(), slog.String("tag", prefix))
		return
	}
	current().Warn(prefix, slog.String("tag", prefix))
}

// DropMessage logs a cold-path informational message.
func DropMessage(prefix, message string) {
	current().Info(message, slog.String("tag", prefix))
}

// DropDebug logs a message at debug level; filtered out by default.
func DropDebug(prefix, message string) {
	current().Debug(message, slog.String("tag", prefix))
}

// DropWarning logs a cold-path warning such as a first overflow.
func DropWarning(prefix, message string) {
	current().Warn(message, slog.String("tag", prefix))
}
