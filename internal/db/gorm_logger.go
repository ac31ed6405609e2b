package db

import (
	"context"
	"errors"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/arencloud/depot/internal/logging"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// slowQuery is the duration above which a statement is logged at warn level.
const slowQuery = 500 * time.Millisecond

// gormLogger forwards gorm's logs to the structured logger as fields.
// Raw SQL is never logged; only the operation and table are.
type gormLogger struct {
	l     logging.Logger
	level logger.LogLevel
}

func newGormLogger(l logging.Logger, lvl logger.LogLevel) *gormLogger {
	return &gormLogger{l: l, level: lvl}
}

func (g *gormLogger) LogMode(l logger.LogLevel) logger.Interface {
	cp := *g
	cp.level = l
	return &cp
}

func (g *gormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Info {
		g.l.Info("gorm", "msg", msg, "args", data)
	}
}

func (g *gormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Warn {
		g.l.Warn("gorm_warn", "msg", msg, "args", data)
	}
}

func (g *gormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.level >= logger.Error {
		g.l.Error("gorm_error", "msg", msg, "args", data)
	}
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if g.level <= logger.Silent {
		return
	}
	sql, rows := fc()
	dur := time.Since(begin)
	op, table := summarizeSQL(sql)
	fields := []any{"op", op, "table", table, "rows", rows, "durationMs", float64(dur) / 1e6, "caller", callerFileLine()}
	switch {
	case err != nil && errors.Is(err, gorm.ErrRecordNotFound):
		// lookups by id miss routinely (idempotent teardown); keep them quiet
		if g.level >= logger.Info {
			g.l.Debug("gorm_sql", append(fields, "notFound", true)...)
		}
	case err != nil:
		if g.level >= logger.Error {
			g.l.Error("gorm_sql", append(fields, "error", err.Error())...)
		}
	case dur > slowQuery:
		if g.level >= logger.Warn {
			g.l.Warn("gorm_slow_sql", fields...)
		}
	default:
		if g.level >= logger.Info {
			g.l.Debug("gorm_sql", fields...)
		}
	}
}

// callerFileLine returns the first caller outside gorm and this adapter.
func callerFileLine() string {
	for i := 2; i < 15; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "gorm.io") && !strings.HasSuffix(file, "gorm_logger.go") {
			return file + ":" + strconv.Itoa(line)
		}
	}
	return ""
}

// summarizeSQL returns a masked summary like ("SELECT", "resources") without parameters.
func summarizeSQL(sql string) (op string, table string) {
	words := strings.Fields(strings.ToUpper(sql))
	if len(words) == 0 {
		return "", ""
	}
	op = words[0]
	for i := 0; i < len(words)-1; i++ {
		switch words[i] {
		case "FROM", "INTO":
			return op, cleanTable(words[i+1])
		}
	}
	if op == "UPDATE" && len(words) > 1 {
		return op, cleanTable(words[1])
	}
	return op, ""
}

func cleanTable(w string) string {
	w = strings.Trim(w, "`\"(")
	if i := strings.IndexByte(w, '('); i >= 0 {
		w = w[:i]
	}
	return strings.ToLower(w)
}
