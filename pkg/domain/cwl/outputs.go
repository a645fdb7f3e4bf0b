package cwl

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// loadContentsLimit matches the CWL limit on loadContents reads.
const loadContentsLimit = 64 * 1024

// CollectOutputs resolves every declared output after a command has run in rt.OutDir.
// File outputs are returned as File values with absolute paths, File arrays as []any,
// and scalar outputs are parsed from the contents of their first glob match.
func (d *Descriptor) CollectOutputs(b Bindings, rt Runtime, cmd *Command) (map[string]any, error) {
	sc := scope{inputs: map[string]any(b), runtime: rt}
	outputs := make(map[string]any, len(d.Outputs))
	var problems []string

	for _, out := range d.Outputs {
		v, err := d.collect(sc, out, rt, cmd)
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", out.Name, err))
			continue
		}
		outputs[out.Name] = v
	}

	if len(problems) > 0 {
		return outputs, fmt.Errorf("output collection failed: %s", strings.Join(problems, "; "))
	}
	return outputs, nil
}

func (d *Descriptor) collect(sc scope, out OutputParameter, rt Runtime, cmd *Command) (any, error) {
	switch out.Type.Kind {
	case KindStdout:
		return existingFile(cmd.Stdout, KindFile)
	case KindStderr:
		return existingFile(cmd.Stderr, KindFile)
	}

	matches, err := globAll(sc, out.Binding, rt.OutDir)
	if err != nil {
		return nil, err
	}

	if out.Type.Kind == KindArray {
		items := make([]any, 0, len(matches))
		itemKind := KindFile
		if out.Type.Items != nil && out.Type.Items.Kind == KindDirectory {
			itemKind = KindDirectory
		}
		for _, m := range matches {
			f, err := existingFile(m, itemKind)
			if err != nil {
				return nil, err
			}
			items = append(items, f)
		}
		return items, nil
	}

	if len(matches) == 0 {
		if out.Type.Optional {
			return nil, nil
		}
		return nil, fmt.Errorf("no file matched %s", strings.Join(out.Binding.Glob, ", "))
	}

	switch out.Type.Kind {
	case KindFile, KindDirectory:
		return existingFile(matches[0], out.Type.Kind)
	}

	// Scalar outputs are read from the first match.
	contents, err := readLimited(matches[0], loadContentsLimit)
	if err != nil {
		return nil, err
	}
	v, ok := coerce(out.Type, strings.TrimSpace(contents))
	if !ok {
		return nil, fmt.Errorf("cannot parse %q as %s", strings.TrimSpace(contents), out.Type)
	}
	return v, nil
}

func globAll(sc scope, b *OutputBinding, outDir string) ([]string, error) {
	if b == nil {
		return nil, nil
	}
	seen := map[string]bool{}
	var matches []string
	for _, g := range b.Glob {
		pattern, err := sc.interpolate(g)
		if err != nil {
			return nil, err
		}
		if !filepath.IsAbs(pattern) {
			pattern = filepath.Join(outDir, pattern)
		}
		found, err := filepath.Glob(pattern)
		if err != nil {
			return nil, fmt.Errorf("bad glob %q: %w", g, err)
		}
		sort.Strings(found)
		for _, f := range found {
			if !seen[f] {
				seen[f] = true
				matches = append(matches, f)
			}
		}
	}
	return matches, nil
}

func existingFile(path string, kind Kind) (File, error) {
	if path == "" {
		return File{}, fmt.Errorf("no path captured")
	}
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("%s was not produced", path)
	}
	if kind == KindFile && info.IsDir() {
		return File{}, fmt.Errorf("%s is a directory, expected a file", path)
	}
	if kind == KindDirectory && !info.IsDir() {
		return File{}, fmt.Errorf("%s is not a directory", path)
	}
	return File{Class: string(kind), Path: path}, nil
}

func readLimited(path string, limit int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", err
	}
	return string(data), nil
}
