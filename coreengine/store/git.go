package store

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/jeeves-cluster-organization/codeanalysis/coreengine/tools"
)

// The git primitives shell out to the repository's own git, read-only
// subcommands only. A store opened without a RepoRoot reports clean misses
// so the fallback chains and the history tools degrade instead of failing.

func (s *Store) git(ctx context.Context, args ...string) (string, error) {
	if s.repoRoot == "" {
		return "", nil
	}
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.repoRoot

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

// GitLog returns recent commits, optionally limited to one path.
func (s *Store) GitLog(ctx context.Context, p string, limit int) ([]tools.GitLogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	args := []string{"log", fmt.Sprintf("-%d", limit), "--pretty=format:%H%x1f%an%x1f%s"}
	if p != "" {
		args = append(args, "--", p)
	}

	out, err := s.git(ctx, args...)
	if err != nil || out == "" {
		return nil, err
	}

	var entries []tools.GitLogEntry
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		parts := strings.SplitN(line, "\x1f", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, tools.GitLogEntry{
			Commit:  parts[0],
			Author:  parts[1],
			Summary: parts[2],
		})
	}
	return entries, nil
}

// GitBlame returns per-line attribution for a file.
func (s *Store) GitBlame(ctx context.Context, p string) ([]tools.GitBlameLine, error) {
	out, err := s.git(ctx, "blame", "--line-porcelain", p)
	if err != nil || out == "" {
		return nil, err
	}

	var lines []tools.GitBlameLine
	var current tools.GitBlameLine
	for _, line := range strings.Split(out, "\n") {
		switch {
		case len(line) >= 40 && !strings.HasPrefix(line, "\t") && isHexPrefix(line[:40]):
			fields := strings.Fields(line)
			if len(fields) >= 3 {
				current.Commit = fields[0]
				if n, err := strconv.Atoi(fields[2]); err == nil {
					current.Line = n
				}
			}
		case strings.HasPrefix(line, "author "):
			current.Author = strings.TrimPrefix(line, "author ")
		case strings.HasPrefix(line, "\t"):
			lines = append(lines, current)
			current = tools.GitBlameLine{}
		}
	}
	return lines, nil
}

// GitDiff returns the diff for a ref (or the working tree when empty).
func (s *Store) GitDiff(ctx context.Context, ref string) ([]tools.GitDiffHunk, error) {
	args := []string{"diff"}
	if ref != "" {
		args = append(args, ref)
	}
	out, err := s.git(ctx, args...)
	if err != nil || out == "" {
		return nil, err
	}

	var hunks []tools.GitDiffHunk
	var currentPath string
	var buf strings.Builder
	flush := func() {
		if currentPath != "" && buf.Len() > 0 {
			hunks = append(hunks, tools.GitDiffHunk{Path: currentPath, Text: buf.String()})
		}
		buf.Reset()
	}

	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "diff --git ") {
			flush()
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				currentPath = strings.TrimPrefix(fields[3], "b/")
			}
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\n")
	}
	flush()
	return hunks, nil
}

// GitStatus returns porcelain status lines.
func (s *Store) GitStatus(ctx context.Context) ([]string, error) {
	out, err := s.git(ctx, "status", "--porcelain")
	if err != nil || strings.TrimSpace(out) == "" {
		return nil, err
	}
	return strings.Split(strings.TrimSpace(out), "\n"), nil
}

func isHexPrefix(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return false
		}
	}
	return true
}
