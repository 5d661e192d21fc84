package manifest

import (
	"bytes"
	"strconv"

	"github.com/pkg/errors"
)

// Serialize renders m as its canonical byte-exact manifest text: one
// LF-terminated line per node, in m.Nodes order (callers are expected to
// have already produced that order via Generate, which sorts at every
// directory level per spec.md §4.1).
func (m *Manifest) Serialize() ([]byte, error) {
	var buf bytes.Buffer
	for _, n := range m.Nodes {
		if err := writeLine(&buf, m.Format, n); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func writeLine(buf *bytes.Buffer, f Format, n Node) error {
	switch n.Kind {
	case KindFile:
		return writeFileLine(buf, "F", n)
	case KindExecutable:
		return writeFileLine(buf, "X", n)
	case KindSymlink:
		if err := validateName(n.Name); err != nil {
			return err
		}
		buf.WriteString("S ")
		buf.WriteString(n.Hash)
		buf.WriteByte(' ')
		buf.WriteString(strconv.FormatInt(n.Size, 10))
		buf.WriteByte(' ')
		buf.WriteString(n.Name)
		buf.WriteByte('\n')
		return nil
	case KindDir:
		if f.IsNew() {
			buf.WriteString("D ")
			buf.WriteString(n.FullPath)
			buf.WriteByte('\n')
		} else {
			buf.WriteString("D ")
			buf.WriteString(strconv.FormatInt(n.ModTime, 10))
			buf.WriteByte(' ')
			buf.WriteString(n.FullPath)
			buf.WriteByte('\n')
		}
		return nil
	default:
		return errors.Errorf("manifest: unknown node kind %v", n.Kind)
	}
}

func writeFileLine(buf *bytes.Buffer, leader string, n Node) error {
	if err := validateName(n.Name); err != nil {
		return err
	}
	buf.WriteString(leader)
	buf.WriteByte(' ')
	buf.WriteString(n.Hash)
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(n.ModTime, 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.FormatInt(n.Size, 10))
	buf.WriteByte(' ')
	buf.WriteString(n.Name)
	buf.WriteByte('\n')
	return nil
}

func validateName(name string) error {
	for i := 0; i < len(name); i++ {
		if name[i] == '\n' {
			return errors.Errorf("manifest: name %q contains a newline", name)
		}
	}
	return nil
}
