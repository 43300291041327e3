package domain

import (
	"io/fs"
	"strings"
	"time"
)

// Managed block markers. Their text must never change between releases:
// they are the only thing tying a hosts file back to earlier runs.
const (
	StartMarker = "# Cidy‘s Adobe Net Block Start"
	EndMarker   = "# Cidy‘s Adobe Net Block End"
)

// Span locates one managed block by line index. End is the index of the end
// marker line, or len(Lines) when the block is unterminated and runs to EOF.
type Span struct {
	Start      int
	End        int
	Terminated bool
}

// HostsDocument is the full content of the hosts file as read from disk.
//
// Notes:
// - Lines keep their original terminators so foreign lines round-trip byte-for-byte.
// - Blocks lists every managed block in file order; the first is authoritative.
type HostsDocument struct {
	Path    string
	Lines   []string
	Blocks  []Span
	Newline string
	Mode    fs.FileMode
	ModTime time.Time
	Exists  bool
}

// NewHostsDocument splits content into lines and locates managed blocks.
func NewHostsDocument(path string, content []byte, defaultNewline string) HostsDocument {
	doc := HostsDocument{Path: path, Newline: defaultNewline}
	if len(content) > 0 {
		parts := strings.SplitAfter(string(content), "\n")
		if parts[len(parts)-1] == "" {
			parts = parts[:len(parts)-1]
		}
		doc.Lines = parts
	}
	for _, l := range doc.Lines {
		if strings.HasSuffix(l, "\r\n") {
			doc.Newline = "\r\n"
			break
		}
		if strings.HasSuffix(l, "\n") {
			doc.Newline = "\n"
			break
		}
	}
	doc.Blocks = findBlocks(doc.Lines)
	return doc
}

// findBlocks scans for start/end marker pairs. A stray end marker outside a
// block is foreign text; a start marker without an end runs to EOF.
func findBlocks(lines []string) []Span {
	var spans []Span
	open := -1
	for i, l := range lines {
		switch markerOf(l) {
		case StartMarker:
			if open < 0 {
				open = i
			}
		case EndMarker:
			if open >= 0 {
				spans = append(spans, Span{Start: open, End: i, Terminated: true})
				open = -1
			}
		}
	}
	if open >= 0 {
		spans = append(spans, Span{Start: open, End: len(lines)})
	}
	return spans
}

func markerOf(line string) string {
	t := strings.TrimSpace(line)
	if t == StartMarker || t == EndMarker {
		return t
	}
	return ""
}

// HasBlock reports whether at least one managed block is present.
func (d HostsDocument) HasBlock() bool { return len(d.Blocks) > 0 }

// BlockLines returns the raw lines strictly between the first block's markers.
func (d HostsDocument) BlockLines() []string {
	if !d.HasBlock() {
		return nil
	}
	b := d.Blocks[0]
	return d.Lines[b.Start+1 : b.End]
}

// InBlock reports whether line index i belongs to any managed block,
// markers included.
func (d HostsDocument) InBlock(i int) bool {
	for _, b := range d.Blocks {
		if i >= b.Start && i <= b.End {
			return true
		}
	}
	return false
}

// ForeignLines returns every line outside managed blocks, in order.
func (d HostsDocument) ForeignLines() []string {
	out := make([]string, 0, len(d.Lines))
	for i, l := range d.Lines {
		if !d.InBlock(i) {
			out = append(out, l)
		}
	}
	return out
}

// Bytes reassembles the document exactly as read.
func (d HostsDocument) Bytes() []byte {
	var b strings.Builder
	for _, l := range d.Lines {
		b.WriteString(l)
	}
	return []byte(b.String())
}
