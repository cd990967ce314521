package main

import (
	"bytes"
	"testing"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"

	"github.com/samcharles93/gptj/internal/version"
)

func TestPrintVersion(t *testing.T) {
	t.Parallel()
	info := version.Info{Version: "v0.3.0", Commit: "abc123", GoVersion: "go1.26.0", Modified: true}

	var buf bytes.Buffer
	if err := printVersion(&buf, info, false); err != nil {
		t.Fatalf("text: %v", err)
	}
	want := "gptj v0.3.0+dirty\ncommit:     abc123\ngo:         go1.26.0\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Fatalf("text (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := printVersion(&buf, info, true); err != nil {
		t.Fatalf("json: %v", err)
	}
	var got version.Info
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if diff := cmp.Diff(info, got); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}
}
