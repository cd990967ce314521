package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/urfave/cli/v3"
)

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if diff := cmp.Diff(Config{}, cfg); diff != "" {
		t.Fatalf("missing file config (-want +got):\n%s", diff)
	}

	path := filepath.Join(dir, "config.yaml")
	data := []byte(`model: /models/gpt-j.bin
context_size: 512
threads: 0
log_format: json
server_address: ":9090"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	ctxSize, zero := 512, 0
	want := Config{
		Model:         "/models/gpt-j.bin",
		ContextSize:   &ctxSize,
		Threads:       &zero,
		LogFormat:     "json",
		ServerAddress: ":9090",
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Fatalf("config (-want +got):\n%s", diff)
	}

	if err := os.WriteFile(path, []byte("threads: [1"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestApplyServeConfigKeepsExplicitFlags(t *testing.T) {
	ctxSize, nThreads, nBatch := 256, 3, 16
	cfg := Config{
		Model:         "/from/config.bin",
		ContextSize:   &ctxSize,
		Threads:       &nThreads,
		BatchSize:     &nBatch,
		ServerAddress: ":9999",
	}

	var addr string
	cmd := &cli.Command{
		Name: "serve",
		Flags: append(commonModelFlags(), &cli.StringFlag{
			Name:        "addr",
			Value:       "127.0.0.1:8080",
			Destination: &addr,
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, cfg, &addr)
			return nil
		},
	}
	args := []string{"serve", "--model", "/from/flag.bin", "--threads", "5"}
	if err := cmd.Run(context.Background(), args); err != nil {
		t.Fatalf("run: %v", err)
	}

	if modelPath != "/from/flag.bin" {
		t.Errorf("model = %q, flag should win", modelPath)
	}
	if threads != 5 {
		t.Errorf("threads = %d, flag should win", threads)
	}
	if contextSize != 256 {
		t.Errorf("context size = %d, want config value", contextSize)
	}
	if batchSize != 16 {
		t.Errorf("batch size = %d, want config value", batchSize)
	}
	if addr != ":9999" {
		t.Errorf("addr = %q, want config value", addr)
	}
}
