package slog

import (
	"bytes"
	stdslog "log/slog"
	"strings"
	"testing"

	"github.com/unkn0wn-root/tiercache/log"
)

func TestLoggerWritesSortedFields(t *testing.T) {
	var buf bytes.Buffer
	l := Logger{L: stdslog.New(stdslog.NewTextHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelDebug}))}

	l.Warn("tier degraded", log.Fields{"tier": "shared", "err": "dial tcp: refused"})

	line := buf.String()
	if !strings.Contains(line, "level=WARN") || !strings.Contains(line, `msg="tier degraded"`) {
		t.Fatalf("unexpected line: %q", line)
	}
	if strings.Index(line, "err=") > strings.Index(line, "tier=") {
		t.Fatalf("fields not sorted: %q", line)
	}
}
