package peer

import (
	"fmt"

	pionlog "github.com/pion/logging"

	"github.com/mossy-p/peer-signaling/internal/logging"
)

// loggerFactory routes pion's scoped loggers through the shared logger.
// Pion is chatty at info level, so info is demoted to debug and trace is
// dropped.
type loggerFactory struct{}

func (loggerFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return scopedLogger{scope: scope}
}

type scopedLogger struct {
	scope string
}

func (scopedLogger) Trace(string) {}

func (scopedLogger) Tracef(string, ...any) {}

func (l scopedLogger) Debug(msg string) { logging.Debug("pion/%s: %s", l.scope, msg) }

func (l scopedLogger) Info(msg string) { logging.Debug("pion/%s: %s", l.scope, msg) }

func (l scopedLogger) Warn(msg string) { logging.Warn("pion/%s: %s", l.scope, msg) }

func (l scopedLogger) Error(msg string) { logging.Error("pion/%s: %s", l.scope, msg) }

func (l scopedLogger) Debugf(format string, args ...any) { l.Debug(fmt.Sprintf(format, args...)) }

func (l scopedLogger) Infof(format string, args ...any) { l.Info(fmt.Sprintf(format, args...)) }

func (l scopedLogger) Warnf(format string, args ...any) { l.Warn(fmt.Sprintf(format, args...)) }

func (l scopedLogger) Errorf(format string, args ...any) { l.Error(fmt.Sprintf(format, args...)) }
