package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/tiercache/log"
)

func TestLogrusLoggerFields(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := LogrusLogger{E: logrus.NewEntry(base)}

	l.Error("worker restart failed", log.Fields{"pid": 42})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel || e.Message != "worker restart failed" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.Data["pid"] != 42 {
		t.Fatalf("fields not passed through: %v", e.Data)
	}
}
