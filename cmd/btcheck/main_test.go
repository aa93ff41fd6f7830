package main

import (
	"testing"

	"github.com/fsprobe/btcheck/pkg/config"
)

func TestParseSelector(t *testing.T) {
	sel, err := parseSelector(nil)
	if err != nil || sel != nil {
		t.Fatalf("no args: got %v, %v", sel, err)
	}
	sel, err = parseSelector([]string{"0"})
	if err != nil || sel == nil || *sel != 0 {
		t.Fatalf("\"0\": got %v, %v", sel, err)
	}
	for _, bad := range []string{"-1", "one", "1.5"} {
		if _, err := parseSelector([]string{bad}); err == nil {
			t.Errorf("expected error for %q", bad)
		}
	}
}

func TestApplyFlags(t *testing.T) {
	cfg := config.Default()
	cmd := rootCmd
	if err := cmd.Flags().Set("keep-going", "true"); err != nil {
		t.Fatal(err)
	}
	if err := cmd.Flags().Set("repeat", "3"); err != nil {
		t.Fatal(err)
	}
	jsonOutput = "summary.json"
	defer func() { jsonOutput = "" }()

	if err := applyFlags(cmd, cfg); err != nil {
		t.Fatal(err)
	}
	if !cfg.Run.KeepGoing || cfg.Run.Repeat != 3 || cfg.Report.SummaryPath != "summary.json" {
		t.Errorf("flags not applied: %+v %+v", cfg.Run, cfg.Report)
	}
	if cfg.Run.ContinueOnError {
		t.Error("continue-on-error should keep its config value")
	}
}
