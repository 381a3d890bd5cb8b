// Package fileboot is a cross-process bootstrap.Bootstrap: ranks
// exchange keys through files in a shared directory, guarded by
// advisory file locks (golang.org/x/sys/unix.Flock) rather than an
// in-memory mutex, so it works when the ranks are genuinely separate
// processes (the deployment shape the out-of-band bootstrap is meant
// for) rather than goroutines sharing a heap.
package fileboot

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Bootstrap exchanges keys as files under Dir. Every rank must be
// given the same Dir and Size.
type Bootstrap struct {
	dir  string
	rank int
	size int
}

// New returns a Bootstrap rooted at dir for the given rank/size,
// creating the directory if it does not exist. The directory must be
// shared (e.g. NFS, tmpfs, or a local path when simulating multiple
// ranks in one process tree) by every participating rank.
func New(dir string, rank, size int) (*Bootstrap, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fileboot: mkdir %s: %w", dir, err)
	}
	return &Bootstrap{dir: dir, rank: rank, size: size}, nil
}

func (b *Bootstrap) Rank() int { return b.rank }
func (b *Bootstrap) Size() int { return b.size }

func keyPath(dir, key string, rank int) string {
	return filepath.Join(dir, fmt.Sprintf("%s.%d", key, rank))
}

// Put writes value to a per-rank file under an exclusive flock so a
// concurrent Get on a half-written file never observes a torn read.
func (b *Bootstrap) Put(key string, value []byte) error {
	path := keyPath(b.dir, key, b.rank)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("fileboot: open %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("fileboot: flock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("fileboot: truncate %s: %w", path, err)
	}

	if _, err := f.Write(value); err != nil {
		return fmt.Errorf("fileboot: write %s: %w", path, err)
	}
	return nil
}

// Get reads the value another rank Put under key, taking a shared
// flock so it never races a concurrent Put of the same file.
func (b *Bootstrap) Get(rank int, key string) ([]byte, error) {
	path := keyPath(b.dir, key, rank)
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("fileboot: open %s: %w", path, err)
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("fileboot: flock %s: %w", path, err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	return readAll(f)
}

// Fence waits until every rank has created a fence marker for the
// current generation, polling the shared directory. There is no
// cross-process wakeup primitive here beyond the filesystem, so this
// spins with a short sleep — acceptable for a one-time startup
// rendezvous, not for the steady-state progress loop (which never
// touches the bootstrap again after Init).
func (b *Bootstrap) Fence() error {
	gen := b.nextGeneration()
	marker := filepath.Join(b.dir, fmt.Sprintf("fence.%d.%d", gen, b.rank))
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("fileboot: write fence marker: %w", err)
	}

	for {
		done := true
		for r := 0; r < b.size; r++ {
			p := filepath.Join(b.dir, fmt.Sprintf("fence.%d.%d", gen, r))
			if _, err := os.Stat(p); err != nil {
				done = false
				break
			}
		}
		if done {
			return nil
		}
		time.Sleep(time.Millisecond)
	}
}

func (b *Bootstrap) nextGeneration() int {
	gen := 0
	for {
		p := filepath.Join(b.dir, fmt.Sprintf("fence.%d.%d", gen, b.rank))
		if _, err := os.Stat(p); os.IsNotExist(err) {
			return gen
		}
		gen++
	}
}

func (b *Bootstrap) Finalize() error { return nil }

func readAll(f *os.File) ([]byte, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, info.Size())
	_, err = f.Read(buf)
	return buf, err
}
