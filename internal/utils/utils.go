package utils

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rendition/internal/types"
)

// --- 1. Process Safety & Command Wrapping ---

// SafeCommand wraps a standard exec.Cmd with a buffer to catch Stderr (Python logs)
// This ensures we don't lose critical crash information if a worker dies.
type SafeCommand struct {
	*exec.Cmd
	Stderr *bytes.Buffer
}

// NewSafeCommand initializes a command bound to ctx and attaches a buffer to its Stderr pipe.
// It prepares the command for execution but does not start it.
func NewSafeCommand(ctx context.Context, name string, args ...string) *SafeCommand {
	cmd := exec.CommandContext(ctx, name, args...)
	stderr := &bytes.Buffer{}
	cmd.Stderr = stderr
	return &SafeCommand{Cmd: cmd, Stderr: stderr}
}

// StderrTail returns at most the last n bytes the command wrote to stderr.
// Only call it once the command has been waited on.
func (s *SafeCommand) StderrTail(n int) string {
	b := s.Stderr.Bytes()
	if len(b) > n {
		b = b[len(b)-n:]
	}
	return strings.TrimSpace(string(b))
}

// ShowError prints a formatted error box to stderr and dumps Python logs when
// the error carries them.
// Unlike a hard exit it lets the caller return the error so deferred cleanup still runs.
func ShowError(context string, err error) {
	WriteError(os.Stderr, context, err)
}

// WriteError is ShowError with an explicit destination.
func WriteError(w io.Writer, context string, err error) {
	fmt.Fprintf(w, "\n---------------------------------------------------------\n")
	fmt.Fprintf(w, "🚨 RENDITION ERROR: %s\n", context)
	if err != nil {
		fmt.Fprintf(w, "DETAILS: %v\n", err)
	}

	// If the engine captured logs before it died, print them.
	var engErr *types.EngineError
	if errors.As(err, &engErr) && engErr.Logs != "" {
		fmt.Fprintf(w, "\nPYTHON CRASH LOGS:\n%s\n", engErr.Logs)
	}
	fmt.Fprintf(w, "---------------------------------------------------------\n")
}

// --- 2. Input Discovery & Output Naming ---

// DefaultExtensions are the source formats the pipeline decodes.
var DefaultExtensions = []string{".jpg", ".jpeg", ".png"}

// HasExtension reports whether path ends in one of exts (case-insensitive).
func HasExtension(path string, exts []string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// CollectInputs expands files and directories into a sorted, de-duplicated
// list of image paths. Directories are walked recursively; hidden files and
// directories are skipped. Explicit file arguments are kept even if their
// extension is not in exts, so the pipeline can report them as decode failures.
func CollectInputs(paths []string, exts []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			add(filepath.Clean(p))
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			hidden := strings.HasPrefix(d.Name(), ".") && path != p
			if d.IsDir() {
				if hidden {
					return filepath.SkipDir
				}
				return nil
			}
			if hidden || !HasExtension(path, exts) {
				return nil
			}
			add(filepath.Clean(path))
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	sort.Strings(out)
	return out, nil
}

// BaseName strips the directory and extension from a source path.
func BaseName(source string) string {
	base := filepath.Base(source)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ArtifactName returns the output filename for one rendition: {basename}_{profile}.webp
// base is expected to come from BaseName.
func ArtifactName(base, profile string) string {
	return fmt.Sprintf("%s_%s.webp", base, profile)
}

// PreviewName returns the filename of the highlighted original.
func PreviewName(base string) string {
	return base + "_faces.png"
}

// IsPreviewName reports whether path looks like a file PreviewName produced.
func IsPreviewName(path string) bool {
	return strings.HasSuffix(filepath.Base(path), "_faces.png")
}

// UniqueBaseNames maps each source to a basename that no other source in the
// list shares. Later duplicates get a numeric suffix: photo, photo-2, photo-3.
func UniqueBaseNames(sources []string) []string {
	out := make([]string, len(sources))
	used := make(map[string]bool, len(sources))
	for i, src := range sources {
		base := BaseName(src)
		name := base
		for n := 2; used[name]; n++ {
			name = fmt.Sprintf("%s-%d", base, n)
		}
		used[name] = true
		out[i] = name
	}
	return out
}

// --- 3. Identity ---

// GenerateImageID creates a deterministic hash for the image file
// based on its path, size, and modification time.
func GenerateImageID(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	input := fmt.Sprintf("%s-%d-%d", path, info.Size(), info.ModTime().UnixNano())
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:]), nil
}
