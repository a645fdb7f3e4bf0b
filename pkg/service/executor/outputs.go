package executor

import (
	"encoding/base64"
	"io"
	"os"
	"sort"
	"unicode/utf8"

	"github.com/cwl-mcp/cwl-mcp/pkg/domain/cwl"
)

// BinaryContent carries a read output that is not valid UTF-8 text.
type BinaryContent struct {
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// referenceOutputs replaces File values with their absolute paths.
func referenceOutputs(outputs map[string]any) map[string]any {
	if outputs == nil {
		return nil
	}
	out := make(map[string]any, len(outputs))
	for name, v := range outputs {
		out[name] = reference(v)
	}
	return out
}

func reference(v any) any {
	switch x := v.(type) {
	case cwl.File:
		return x.Path
	case []any:
		paths := make([]any, len(x))
		for i, item := range x {
			paths[i] = reference(item)
		}
		return paths
	}
	return v
}

// materializeOutputs replaces File values with their contents, reading at most limit
// bytes per file. It returns the names of outputs that were cut short.
func materializeOutputs(outputs map[string]any, limit int64) (map[string]any, []string, error) {
	out := make(map[string]any, len(outputs))
	truncated := map[string]bool{}
	for name, v := range outputs {
		m, cut, err := materialize(v, limit)
		if err != nil {
			return nil, nil, err
		}
		out[name] = m
		if cut {
			truncated[name] = true
		}
	}

	names := make([]string, 0, len(truncated))
	for name := range truncated {
		names = append(names, name)
	}
	sort.Strings(names)
	return out, names, nil
}

func materialize(v any, limit int64) (any, bool, error) {
	switch x := v.(type) {
	case cwl.File:
		if x.Class == string(cwl.KindDirectory) {
			return x.Path, false, nil
		}
		return readContent(x.Path, limit)
	case []any:
		items := make([]any, len(x))
		anyCut := false
		for i, item := range x {
			m, cut, err := materialize(item, limit)
			if err != nil {
				return nil, false, err
			}
			items[i] = m
			anyCut = anyCut || cut
		}
		return items, anyCut, nil
	}
	return v, false, nil
}

func readContent(path string, limit int64) (any, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, limit+1))
	if err != nil {
		return nil, false, err
	}
	cut := int64(len(data)) > limit
	if cut {
		data = data[:limit]
	}

	if utf8.Valid(data) || (cut && utf8.Valid(trimPartialRune(data))) {
		return string(trimPartialRune(data)), cut, nil
	}
	return BinaryContent{
		Encoding: "base64",
		Content:  base64.StdEncoding.EncodeToString(data),
	}, cut, nil
}

// trimPartialRune drops an incomplete UTF-8 sequence left at the end by truncation.
func trimPartialRune(data []byte) []byte {
	for i := 0; i < utf8.UTFMax && i < len(data); i++ {
		r, size := utf8.DecodeLastRune(data[:len(data)-i])
		if r != utf8.RuneError || size > 1 {
			return data[:len(data)-i]
		}
	}
	return data
}
