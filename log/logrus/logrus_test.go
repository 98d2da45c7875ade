package logrus

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/unkn0wn-root/reactkv"
)

func TestLoggerTagsComponent(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Error("subscriber callback panicked", reactkv.Fields{"connection": uint64(7)})

	e := hook.LastEntry()
	if e == nil || e.Level != logrus.ErrorLevel || e.Message != "subscriber callback panicked" {
		t.Fatalf("unexpected entry %+v", e)
	}
	if e.Data["component"] != "reactkv" || e.Data["connection"] != uint64(7) {
		t.Fatalf("data = %v", e.Data)
	}
}
