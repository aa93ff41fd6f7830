// Package artifacts captures failing backtraces to a backend and
// re-verifies them later without the cluster.
//
// A failure of scenario s in round r of run id is stored as
//
//	<id>/r<r>/<s>/failure.json         manifest: inode, pool, reason, expected chain
//	<id>/r<r>/<s>/decoded.json         the decoded backtrace
//	<id>/r<r>/<s>/<object>/parent      the raw attribute
package artifacts

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/backend"
	"github.com/fsprobe/btcheck/pkg/backtrace"
	"github.com/fsprobe/btcheck/pkg/objstore"
	"github.com/fsprobe/btcheck/pkg/scenario"
)

const (
	manifestName = "failure.json"
	decodedName  = "decoded.json"
)

// Manifest describes a captured failure.
type Manifest struct {
	RunID    string               `json:"run_id"`
	Round    int                  `json:"round"`
	Scenario int                  `json:"scenario"`
	Name     string               `json:"name"`
	Ino      uint64               `json:"ino"`
	Object   string               `json:"object"`
	Pool     int64                `json:"pool"`
	Reason   backtrace.Reason     `json:"reason"`
	Index    int                  `json:"index"`
	Expected []backtrace.Ancestor `json:"expected"`
	Message  string               `json:"message"`
	Captured time.Time            `json:"captured"`
}

// Prefix returns the directory holding the failure of scenario in round.
func Prefix(runID string, round, scenario int) string {
	return path.Join(runID, "r"+strconv.Itoa(round), strconv.Itoa(scenario))
}

// Capturer uploads verification failures as they happen. It plugs into the
// scenario runner.
type Capturer struct {
	b    backend.Backend
	pool int64
}

// NewCapturer creates a capturer. pool is the expected pool the run verifies
// against.
func NewCapturer(b backend.Backend, pool int64) *Capturer {
	return &Capturer{b: b, pool: pool}
}

func (c *Capturer) ScenarioStarted(runID string, round int, s *scenario.Scenario) {}

// ScenarioFinished stores the failure behind a failed result.
func (c *Capturer) ScenarioFinished(runID string, res scenario.Result) error {
	f, ok := res.Failure()
	if !ok {
		return nil
	}
	prefix := Prefix(runID, res.Round, res.Index)
	m := Manifest{
		RunID:    runID,
		Round:    res.Round,
		Scenario: res.Index,
		Name:     res.Name,
		Ino:      f.Ino,
		Object:   objstore.ObjectName(f.Ino),
		Pool:     c.pool,
		Reason:   f.Reason,
		Index:    f.Index,
		Expected: f.Expected,
		Message:  f.Error(),
		Captured: time.Now().UTC(),
	}
	if err := c.Capture(context.Background(), prefix, m, f); err != nil {
		return err
	}
	log.Info().Str("component", "artifacts").Str("backend", c.b.Name()).
		Str("prefix", prefix).Msg("captured failing backtrace")
	return nil
}

// Capture writes the manifest, decoded backtrace and raw attribute of f.
func (c *Capturer) Capture(ctx context.Context, prefix string, m Manifest, f *backtrace.VerifyFailure) error {
	manifest, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("artifacts.Capture: marshal manifest: %w", err)
	}
	if err := backend.Put(ctx, c.b, path.Join(prefix, manifestName), manifest); err != nil {
		return fmt.Errorf("artifacts.Capture: %w", err)
	}
	if f.Decoded != nil {
		decoded, err := json.MarshalIndent(f.Decoded, "", "  ")
		if err != nil {
			return fmt.Errorf("artifacts.Capture: marshal decoded: %w", err)
		}
		if err := backend.Put(ctx, c.b, path.Join(prefix, decodedName), decoded); err != nil {
			return fmt.Errorf("artifacts.Capture: %w", err)
		}
	}
	if len(f.Raw) > 0 {
		if err := backend.Put(ctx, c.b, objstore.AttrPath(prefix, m.Object, objstore.ParentAttr), f.Raw); err != nil {
			return fmt.Errorf("artifacts.Capture: %w", err)
		}
	}
	return nil
}

// RunFinished is a no-op.
func (c *Capturer) RunFinished(sum *scenario.Summary) error { return nil }

// Recheck is the outcome of re-verifying one captured failure.
type Recheck struct {
	Prefix   string
	Manifest Manifest
	Decoded  *backtrace.Backtrace
	Err      error // nil when the stored attribute now verifies
}

// RecheckRun re-decodes and re-verifies every failure captured for runID.
// Errors reaching the backend abort; per-failure outcomes are in the result.
func RecheckRun(ctx context.Context, b backend.Backend, runID string, decoder backtrace.BlobDecoder) ([]Recheck, error) {
	manifests, err := findManifests(ctx, b, runID)
	if err != nil {
		return nil, err
	}
	if len(manifests) == 0 {
		return nil, fmt.Errorf("artifacts.RecheckRun: no captured failures for run %s: %w", runID, backend.ErrNotFound)
	}

	out := make([]Recheck, 0, len(manifests))
	for _, p := range manifests {
		data, err := backend.Get(ctx, b, p)
		if err != nil {
			return nil, fmt.Errorf("artifacts.RecheckRun: %w", err)
		}
		var m Manifest
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, fmt.Errorf("artifacts.RecheckRun: parse %s: %w", p, err)
		}
		store := objstore.NewArchiveStore(b, path.Dir(p))
		v := backtrace.NewVerifier(store, decoder)
		decoded, err := v.Verify(ctx, m.Ino, m.Expected, m.Pool)
		out = append(out, Recheck{Prefix: path.Dir(p), Manifest: m, Decoded: decoded, Err: err})
	}
	return out, nil
}

// Prune deletes the captures of checks that now verify and returns how many
// were removed. Captures that still fail are left in place.
func Prune(ctx context.Context, b backend.Backend, checks []Recheck) (int, error) {
	pruned := 0
	for _, c := range checks {
		if c.Err != nil || c.Prefix == "" {
			continue
		}
		if err := removeAll(ctx, b, c.Prefix); err != nil {
			return pruned, fmt.Errorf("artifacts.Prune: %w", err)
		}
		pruned++
		log.Info().Str("component", "artifacts").Str("backend", b.Name()).
			Str("prefix", c.Prefix).Msg("pruned capture that now verifies")
	}
	return pruned, nil
}

// removeAll deletes every object below dir.
func removeAll(ctx context.Context, b backend.Backend, dir string) error {
	entries, err := b.List(ctx, dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		p := path.Join(dir, e.Path)
		if e.IsDir {
			if err := removeAll(ctx, b, p); err != nil {
				return err
			}
			continue
		}
		if err := b.Delete(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// findManifests walks <runID>/r*/<scenario>/ for manifest files.
func findManifests(ctx context.Context, b backend.Backend, runID string) ([]string, error) {
	rounds, err := b.List(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("artifacts: list run %s: %w", runID, err)
	}
	var out []string
	for _, r := range rounds {
		if !r.IsDir || !strings.HasPrefix(r.Path, "r") {
			continue
		}
		roundDir := path.Join(runID, r.Path)
		scenarios, err := b.List(ctx, roundDir)
		if err != nil {
			return nil, fmt.Errorf("artifacts: list %s: %w", roundDir, err)
		}
		for _, s := range scenarios {
			if !s.IsDir {
				continue
			}
			// Pruned captures leave empty directories behind.
			dir := path.Join(roundDir, s.Path)
			files, err := b.List(ctx, dir)
			if err != nil {
				return nil, fmt.Errorf("artifacts: list %s: %w", dir, err)
			}
			for _, f := range files {
				if !f.IsDir && f.Path == manifestName {
					out = append(out, path.Join(dir, manifestName))
				}
			}
		}
	}
	return out, nil
}
