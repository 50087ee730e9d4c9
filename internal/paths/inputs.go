// Package paths expands command-line inputs into trace file paths.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zjrosen/tracelake/internal/log"
)

// Expand turns files, directories and glob patterns into an ordered list of
// file paths without duplicates.
//
// Input handling:
//   - "dir" -> every regular, non-hidden file directly inside dir, by name
//   - "trace.*" -> the glob matches, by name
//   - "trace.101" -> kept as given, even when it does not exist
//
// Paths that do not exist are passed through so the scanner can report them
// as failed files. The order of args is preserved.
func Expand(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var result []string
	add := func(p string) {
		key := filepath.Clean(p)
		if seen[key] {
			return
		}
		seen[key] = true
		result = append(result, p)
	}

	for _, arg := range args {
		if arg == "" {
			continue
		}

		info, err := os.Stat(arg)
		if err == nil && info.IsDir() {
			files, err := MatchDir(arg, "*")
			if err != nil {
				return nil, err
			}
			if len(files) == 0 {
				log.Warn(log.CatCLI, "directory contains no trace files", "dir", arg)
			}
			for _, f := range files {
				add(f)
			}
			continue
		}

		if err != nil && hasMeta(arg) {
			matches, err := filepath.Glob(arg)
			if err != nil {
				return nil, fmt.Errorf("invalid glob pattern %q: %w", arg, err)
			}
			if len(matches) == 0 {
				// Pattern didn't match anything - include it as literal path
				// so it shows up as a failed file
				add(arg)
				continue
			}
			for _, m := range matches {
				if fi, err := os.Stat(m); err == nil && fi.IsDir() {
					continue
				}
				add(m)
			}
			continue
		}

		add(arg)
	}
	return result, nil
}

// MatchDir lists regular, non-hidden files directly inside dir whose base
// name matches pattern, sorted by name.
func MatchDir(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid pattern %q: %w", pattern, err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); !ok {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	return files, nil
}

func hasMeta(p string) bool {
	return strings.ContainsAny(p, `*?[`)
}
