package backtrace

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fsprobe/btcheck/pkg/metrics"
	"github.com/fsprobe/btcheck/pkg/objstore"
)

// Reason classifies a verification failure.
type Reason string

const (
	ReasonInode          Reason = "inode"
	ReasonAncestorDirIno Reason = "ancestor_dirino"
	ReasonAncestorName   Reason = "ancestor_name"
	ReasonAncestorCount  Reason = "ancestor_count"
	ReasonPool           Reason = "pool"
)

// Reasons lists every failure reason.
var Reasons = []Reason{ReasonInode, ReasonAncestorDirIno, ReasonAncestorName, ReasonAncestorCount, ReasonPool}

func init() {
	// Export a zero series per reason before the first failure.
	for _, r := range Reasons {
		metrics.VerifyFailures.WithLabelValues(string(r))
	}
}

// VerifyFailure reports a stored backtrace that does not match what the
// filesystem operations should have produced. Index is the ancestor position
// for ancestor reasons and -1 otherwise.
type VerifyFailure struct {
	Reason   Reason
	Index    int
	Got      any
	Want     any
	Ino      uint64
	Decoded  *Backtrace
	Expected []Ancestor
	Raw      []byte
}

func (e *VerifyFailure) Error() string {
	var what string
	switch e.Reason {
	case ReasonInode:
		what = fmt.Sprintf("inode mismatch: got %#x, want %#x", e.Got, e.Want)
	case ReasonPool:
		what = fmt.Sprintf("pool mismatch: got %v, want %v", e.Got, e.Want)
	case ReasonAncestorCount:
		what = fmt.Sprintf("ancestor count mismatch at %d: got %v, want %v", e.Index, e.Got, e.Want)
	case ReasonAncestorDirIno:
		what = fmt.Sprintf("ancestor %d dirino mismatch: got %#x, want %#x", e.Index, e.Got, e.Want)
	default:
		what = fmt.Sprintf("ancestor %d name mismatch: got %q, want %q", e.Index, e.Got, e.Want)
	}
	return fmt.Sprintf("backtrace: inode %#x: %s; decoded %s; expected %s",
		e.Ino, what, e.Decoded, FormatChain(e.Expected))
}

// ReadError reports a failure to fetch the stored attribute. It is an
// infrastructure error, not a verification result.
type ReadError struct {
	Object string
	Err    error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("backtrace: read %s of %s: %v", objstore.ParentAttr, e.Object, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// BlobDecoder turns raw attribute bytes into a backtrace.
type BlobDecoder interface {
	Decode(ctx context.Context, raw []byte) (*Backtrace, error)
}

// Verifier fetches and checks backtraces. It never writes to the store.
type Verifier struct {
	store   objstore.Store
	decoder BlobDecoder
}

// NewVerifier creates a verifier reading from store.
func NewVerifier(store objstore.Store, decoder BlobDecoder) *Verifier {
	return &Verifier{store: store, decoder: decoder}
}

// Verify reads the backtrace of ino and compares it with expected, nearest
// ancestor first, and with the expected pool. The decoded backtrace is
// returned on success and on *VerifyFailure.
func (v *Verifier) Verify(ctx context.Context, ino uint64, expected []Ancestor, pool int64) (*Backtrace, error) {
	object := objstore.ObjectName(ino)
	raw, err := v.store.GetXattr(ctx, object, objstore.ParentAttr)
	if err != nil {
		return nil, &ReadError{Object: object, Err: err}
	}
	return v.VerifyRaw(ctx, ino, raw, expected, pool)
}

// VerifyRaw decodes raw and checks it like Verify. It serves re-verification
// of captured attributes.
func (v *Verifier) VerifyRaw(ctx context.Context, ino uint64, raw []byte, expected []Ancestor, pool int64) (*Backtrace, error) {
	bt, err := v.decoder.Decode(ctx, raw)
	if err != nil {
		return nil, err
	}

	if f := Compare(ino, bt, expected, pool); f != nil {
		f.Raw = raw
		metrics.VerifyFailures.WithLabelValues(string(f.Reason)).Inc()
		log.Debug().Str("component", "backtrace").Str("reason", string(f.Reason)).
			Uint64("ino", ino).Msg("backtrace mismatch")
		return bt, f
	}
	log.Debug().Str("component", "backtrace").Uint64("ino", ino).
		Int("ancestors", len(bt.Ancestors)).Msg("backtrace verified")
	return bt, nil
}

// Compare checks a decoded backtrace and returns the first failing check,
// or nil. The inode is checked first, then every expected position
// (dirino before name), then surplus entries, then the pool.
func Compare(ino uint64, bt *Backtrace, expected []Ancestor, pool int64) *VerifyFailure {
	fail := func(r Reason, idx int, got, want any) *VerifyFailure {
		return &VerifyFailure{Reason: r, Index: idx, Got: got, Want: want, Ino: ino, Decoded: bt, Expected: expected}
	}

	if bt.Ino != ino {
		return fail(ReasonInode, -1, bt.Ino, ino)
	}
	for i, want := range expected {
		if i >= len(bt.Ancestors) {
			return fail(ReasonAncestorCount, i, len(bt.Ancestors), len(expected))
		}
		got := bt.Ancestors[i]
		if got.DirIno != want.DirIno {
			return fail(ReasonAncestorDirIno, i, got.DirIno, want.DirIno)
		}
		if got.DName != want.Name {
			return fail(ReasonAncestorName, i, got.DName, want.Name)
		}
	}
	if len(bt.Ancestors) > len(expected) {
		return fail(ReasonAncestorCount, len(expected), len(bt.Ancestors), len(expected))
	}
	if bt.Pool != pool {
		return fail(ReasonPool, -1, bt.Pool, pool)
	}
	return nil
}

// IsVerifyFailure reports whether err carries a *VerifyFailure.
func IsVerifyFailure(err error) bool {
	var f *VerifyFailure
	return errors.As(err, &f)
}
