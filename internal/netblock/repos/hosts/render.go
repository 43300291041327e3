package hosts

import (
	"strings"

	"github.com/haukened/adobe-netblock/internal/netblock/domain"
)

// Render builds the new file content: every line outside the managed blocks is
// kept untouched, all managed blocks are dropped, and one fresh block holding
// list is placed where the first block was, or appended at EOF after a blank
// separator line when the document had none. A nil list renders no block.
func Render(doc domain.HostsDocument, list *domain.BlockList) []byte {
	nl := doc.Newline
	var b strings.Builder

	if !doc.HasBlock() {
		for _, l := range doc.Lines {
			b.WriteString(l)
		}
		if list == nil {
			return []byte(b.String())
		}
		if n := len(doc.Lines); n > 0 {
			last := doc.Lines[n-1]
			if !strings.HasSuffix(last, "\n") {
				b.WriteString(nl)
			}
			if strings.TrimSpace(last) != "" {
				b.WriteString(nl)
			}
		}
		writeBlock(&b, list, nl)
		return []byte(b.String())
	}

	first := doc.Blocks[0].Start
	for i, l := range doc.Lines {
		if i == first && list != nil {
			writeBlock(&b, list, nl)
		}
		if doc.InBlock(i) {
			continue
		}
		b.WriteString(l)
	}
	return []byte(b.String())
}

// writeBlock emits the markers, the optional source header and the entries.
func writeBlock(b *strings.Builder, list *domain.BlockList, nl string) {
	b.WriteString(domain.StartMarker)
	b.WriteString(nl)
	if list.SourceUpdated != "" {
		b.WriteString("# Last update: ")
		b.WriteString(list.SourceUpdated)
		b.WriteString(nl)
	}
	for _, e := range list.Entries {
		b.WriteString(e.HostsLine())
		b.WriteString(nl)
	}
	b.WriteString(domain.EndMarker)
	b.WriteString(nl)
}
