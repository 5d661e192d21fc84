package manifest

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrMalformed is the sentinel wrapped by every parse failure (spec.md §7
// MalformedManifest). Use errors.Is or errors.Cause (pkg/errors) to get at
// the underlying line-specific detail.
var ErrMalformed = errors.New("manifest: malformed manifest")

// Parse decodes a manifest's canonical byte text under the given Format.
// An unknown leading character, or the wrong number of space-separated
// fields for that leader, fails with ErrMalformed (spec.md §4.1).
func Parse(f Format, data []byte) (*Manifest, error) {
	m := &Manifest{Format: f}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if line == "" {
			continue
		}
		n, err := parseLine(f, line)
		if err != nil {
			return nil, errors.Wrapf(ErrMalformed, "line %d: %v", lineNo, err)
		}
		m.Nodes = append(m.Nodes, n)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(ErrMalformed, err.Error())
	}
	return m, nil
}

func parseLine(f Format, line string) (Node, error) {
	if len(line) < 2 {
		return Node{}, errors.Errorf("line too short: %q", line)
	}
	leader := line[0]
	rest := line[2:]
	switch leader {
	case 'F', 'X':
		return parseFileLine(leader, rest)
	case 'S':
		return parseSymlinkLine(rest)
	case 'D':
		return parseDirLine(f, rest)
	default:
		return Node{}, errors.Errorf("unknown leading character %q", leader)
	}
}

// parseFileLine parses "<hash> <mtime> <size> <name>". Only the first
// three fields are fixed-width; whatever remains (including embedded
// spaces) is the name, per spec.md §8's boundary case.
func parseFileLine(leader byte, rest string) (Node, error) {
	hash, rest, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing hash field")
	}
	mtimeStr, rest, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing mtime field")
	}
	sizeStr, name, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing size field")
	}
	mtime, err := strconv.ParseInt(mtimeStr, 10, 64)
	if err != nil {
		return Node{}, errors.Wrap(err, "bad mtime")
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Node{}, errors.Wrap(err, "bad size")
	}
	if name == "" {
		return Node{}, errors.New("missing name field")
	}
	kind := KindFile
	if leader == 'X' {
		kind = KindExecutable
	}
	return Node{Kind: kind, Hash: hash, ModTime: mtime, Size: size, Name: name}, nil
}

// parseSymlinkLine parses "<hash> <size> <name>".
func parseSymlinkLine(rest string) (Node, error) {
	hash, rest, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing hash field")
	}
	sizeStr, name, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing size field")
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return Node{}, errors.Wrap(err, "bad size")
	}
	if name == "" {
		return Node{}, errors.New("missing name field")
	}
	return Node{Kind: KindSymlink, Hash: hash, Size: size, Name: name}, nil
}

// parseDirLine parses "<full-path>" (new format) or "<mtime> <full-path>"
// (old format).
func parseDirLine(f Format, rest string) (Node, error) {
	if f.IsNew() {
		if rest == "" {
			return Node{}, errors.New("missing path field")
		}
		return Node{Kind: KindDir, FullPath: rest}, nil
	}
	mtimeStr, path, ok := cutField(rest)
	if !ok {
		return Node{}, errors.New("missing mtime field")
	}
	mtime, err := strconv.ParseInt(mtimeStr, 10, 64)
	if err != nil {
		return Node{}, errors.Wrap(err, "bad mtime")
	}
	if path == "" {
		return Node{}, errors.New("missing path field")
	}
	return Node{Kind: KindDir, ModTime: mtime, FullPath: path}, nil
}

// cutField splits off the next space-delimited field from s. ok is false
// if s has no more fields to give (i.e. was already empty).
func cutField(s string) (field, rest string, ok bool) {
	if s == "" {
		return "", "", false
	}
	i := strings.IndexByte(s, ' ')
	if i < 0 {
		return s, "", true
	}
	return s[:i], s[i+1:], true
}
