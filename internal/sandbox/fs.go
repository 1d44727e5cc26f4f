package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	mcperrors "github.com/pulsegrid/mcpcore/internal/errors"
)

const (
	maxScratchPathLength = 1024
	defaultMaxReadBytes  = 1 << 20
)

// Scratch is a per-invocation working directory under a configured root.
// Every path is resolved relative to root and rejected if it would escape
// it: validate first, then normalize.
type Scratch struct {
	root string
}

// NewScratch creates (if necessary) and returns a Scratch rooted at
// filepath.Join(root, invocationID).
func NewScratch(root, invocationID string) (*Scratch, error) {
	dir := filepath.Join(root, invocationID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to create sandbox scratch directory")
	}
	return &Scratch{root: dir}, nil
}

// resolve validates and joins a caller-supplied relative path against the
// scratch root, rejecting empty paths, control characters, absolute paths,
// and any path that would traverse outside the root.
func (s *Scratch) resolve(relPath string) (string, error) {
	relPath = strings.TrimSpace(relPath)
	if relPath == "" {
		return "", mcperrors.New(mcperrors.InvalidArgument, "path is required")
	}
	if len(relPath) > maxScratchPathLength {
		return "", mcperrors.New(mcperrors.InvalidArgument, "path exceeds %d characters", maxScratchPathLength)
	}
	if strings.ContainsAny(relPath, "\x00\r\n") {
		return "", mcperrors.New(mcperrors.InvalidArgument, "path contains invalid control characters")
	}
	if filepath.IsAbs(relPath) {
		return "", mcperrors.New(mcperrors.InvalidArgument, "absolute paths are not allowed")
	}

	joined := filepath.Join(s.root, relPath)
	cleaned := filepath.Clean(joined)
	if cleaned != s.root && !strings.HasPrefix(cleaned, s.root+string(filepath.Separator)) {
		return "", mcperrors.New(mcperrors.InvalidArgument, "path escapes the sandbox scratch directory")
	}
	return cleaned, nil
}

// Read returns the contents of relPath, up to maxBytes (default 1MiB).
func (s *Scratch) Read(relPath string, maxBytes int64) ([]byte, error) {
	path, err := s.resolve(relPath)
	if err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.NotFound, err, "failed to open %q", relPath)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to stat %q", relPath)
	}
	if info.Size() > maxBytes {
		return nil, mcperrors.New(mcperrors.ResourceExhausted, "%q exceeds max read size of %d bytes", relPath, maxBytes)
	}

	buf := make([]byte, info.Size())
	if _, err := f.Read(buf); err != nil {
		return nil, mcperrors.Wrap(mcperrors.Internal, err, "failed to read %q", relPath)
	}
	return buf, nil
}

// Write creates or overwrites relPath with data.
func (s *Scratch) Write(relPath string, data []byte) error {
	path, err := s.resolve(relPath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to create parent directory for %q", relPath)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return mcperrors.Wrap(mcperrors.Internal, err, "failed to write %q", relPath)
	}
	return nil
}

// Cleanup removes the entire scratch directory.
func (s *Scratch) Cleanup() error {
	return os.RemoveAll(s.root)
}
