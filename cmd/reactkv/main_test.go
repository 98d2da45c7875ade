package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunRoundTripsThroughSQLite(t *testing.T) {
	t.Setenv("REACTKV_BACKEND", "sqlite")
	t.Setenv("REACTKV_SQLITE_PATH", filepath.Join(t.TempDir(), "kv.db"))
	t.Setenv("REACTKV_CODEC", "cbor")
	t.Setenv("REACTKV_COMPRESS", "true")
	ctx := context.Background()

	steps := [][]string{
		{"set", "report_1", `{"a":1,"b":{"c":2}}`},
		{"merge", "report_1", `{"b":{"c":null,"d":3}}`},
		{"set", "session", `"token"`},
	}
	for _, args := range steps {
		if err := run(ctx, args, &bytes.Buffer{}); err != nil {
			t.Fatalf("%v: %v", args, err)
		}
	}

	var out bytes.Buffer
	if err := run(ctx, []string{"get", "report_1"}, &out); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != `{"a":1,"b":{"d":3}}` {
		t.Fatalf("get = %s", got)
	}

	if err := run(ctx, []string{"clear", "session"}, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := run(ctx, []string{"keys"}, &out); err != nil {
		t.Fatal(err)
	}
	if got := strings.TrimSpace(out.String()); got != "session" {
		t.Fatalf("keys after clear = %q", got)
	}
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Setenv("REACTKV_BACKEND", "memory")
	ctx := context.Background()
	for _, args := range [][]string{nil, {"get"}, {"frobnicate"}} {
		if err := run(ctx, args, &bytes.Buffer{}); !errors.Is(err, errUsage) {
			t.Fatalf("run(%v) = %v, want usage error", args, err)
		}
	}
	if err := run(ctx, []string{"set", "k", "{not json"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("invalid JSON accepted")
	}
	t.Setenv("REACTKV_BACKEND", "tape")
	t.Setenv("REACTKV_CODEC", "json")
	if err := run(ctx, []string{"keys"}, &bytes.Buffer{}); err == nil {
		t.Fatalf("unknown backend accepted")
	}
}
