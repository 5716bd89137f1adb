// Package sandboxfs wraps another file-capable backend and confines
// OPEN/REMOVE/RENAME to a root directory, the way dittofs's blob store
// resolves every key against a base path before touching the
// filesystem (filepath.Join + filepath.Rel, never trusting a path
// verbatim). A guest's OPEN/REMOVE/RENAME arguments are untrusted input
// from the dispatcher's point of view (spec §9: the host never assumes
// the guest is friendly), so this is the policy layer that makes
// backend/osfile safe to expose to one.
package sandboxfs

import (
	"path/filepath"
	"strings"

	"github.com/johnwbyrd/zbc/internal/interfaces"
)

// fileBackend is the set of capability interfaces sandboxfs wraps; any
// backend implementing these (backend/osfile or backend/uringfile, for
// instance) can sit behind it.
type fileBackend interface {
	interfaces.Backend
	interfaces.Opener
	interfaces.Closer
	interfaces.Writer
	interfaces.Reader
	interfaces.Seeker
	interfaces.FileLenner
	interfaces.Remover
	interfaces.Renamer
}

// Backend confines path-taking operations on an inner fileBackend to
// Root, rejecting any path that would resolve outside it. The fd-based
// operations in fileBackend (Close, Write, Read, Seek, Flen) are
// forwarded to the inner backend unchanged through the embedded
// interface. Capabilities outside fileBackend (IsTTY, IsError, ...) are
// not exposed, even when the inner backend implements them.
type Backend struct {
	fileBackend
	Root string
}

// New wraps inner, confining OPEN/REMOVE/RENAME to root. root is
// cleaned once at construction time; a relative root is kept relative.
func New(inner fileBackend, root string) *Backend {
	return &Backend{fileBackend: inner, Root: filepath.Clean(root)}
}

// resolve joins p onto Root and rejects the result if it still escapes
// Root afterward. An absolute p is not a separate case: filepath.Join
// strips its leading separator and folds it in as a relative component,
// so only a ".."-laden p can still climb out, and that's what the Rel
// check below catches.
func (b *Backend) resolve(p string) (string, bool) {
	joined := filepath.Join(b.Root, p)
	rel, err := filepath.Rel(b.Root, joined)
	if err != nil {
		return "", false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return joined, true
}

// Open implements interfaces.Opener, confined to Root.
func (b *Backend) Open(path string, mode int64) (int64, bool) {
	resolved, ok := b.resolve(path)
	if !ok {
		return 0, false
	}
	return b.fileBackend.Open(resolved, mode)
}

// Remove implements interfaces.Remover, confined to Root.
func (b *Backend) Remove(path string) bool {
	resolved, ok := b.resolve(path)
	if !ok {
		return false
	}
	return b.fileBackend.Remove(resolved)
}

// Rename implements interfaces.Renamer, confined to Root on both ends.
func (b *Backend) Rename(oldPath, newPath string) bool {
	resolvedOld, ok := b.resolve(oldPath)
	if !ok {
		return false
	}
	resolvedNew, ok := b.resolve(newPath)
	if !ok {
		return false
	}
	return b.fileBackend.Rename(resolvedOld, resolvedNew)
}

var (
	_ interfaces.Backend = (*Backend)(nil)
	_ interfaces.Opener  = (*Backend)(nil)
	_ interfaces.Remover = (*Backend)(nil)
	_ interfaces.Renamer = (*Backend)(nil)
)
