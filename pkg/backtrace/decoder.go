package backtrace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/proc"
)

// DefaultType is the ceph-dencoder type name of a backtrace.
const DefaultType = "inode_backtrace_t"

// DecodeError reports a blob the decoder tool could not turn into a
// backtrace. Output holds whatever the tool printed.
type DecodeError struct {
	Err    error
	Output string
}

func (e *DecodeError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("backtrace: decode: %v", e.Err)
	}
	return fmt.Sprintf("backtrace: decode: %v (output: %q)", e.Err, e.Output)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decoder runs ceph-dencoder over raw attribute bytes.
type Decoder struct {
	runner  proc.Runner
	tool    string
	typ     string
	tempDir string
}

// NewDecoder creates a decoder invoking tool. An empty typ means
// DefaultType, an empty tempDir the system default.
func NewDecoder(runner proc.Runner, tool, typ, tempDir string) *Decoder {
	if typ == "" {
		typ = DefaultType
	}
	return &Decoder{runner: runner, tool: tool, typ: typ, tempDir: tempDir}
}

// Decode writes raw to a temporary file, runs
// "<tool> import <file> type <typ> decode dump_json" and parses the result.
// The temporary file is removed on every path.
func (d *Decoder) Decode(ctx context.Context, raw []byte) (*Backtrace, error) {
	f, err := os.CreateTemp(d.tempDir, "btcheck-backtrace-*.bin")
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("create temp file: %w", err)}
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn().Str("component", "backtrace").Str("path", path).Err(err).Msg("failed to remove temp file")
		}
	}()

	if _, err := f.Write(raw); err != nil {
		f.Close()
		return nil, &DecodeError{Err: fmt.Errorf("write temp file: %w", err)}
	}
	if err := f.Close(); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("close temp file: %w", err)}
	}

	out, err := d.runner.Run(ctx, d.tool, "import", path, "type", d.typ, "decode", "dump_json")
	if err != nil {
		return nil, &DecodeError{Err: err, Output: string(out.Stdout)}
	}

	var bt Backtrace
	if err := json.Unmarshal(out.Stdout, &bt); err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("parse %s output: %w", d.tool, err), Output: string(out.Stdout)}
	}
	// Inode 0 is never allocated; "null" or "{}" means the tool printed no backtrace.
	if bt.Ino == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("%s output has no inode", d.tool), Output: string(out.Stdout)}
	}
	return &bt, nil
}
