package doc

import (
	"sort"
	"unicode"

	"convtex/internal/raw"
)

const (
	empty   = ""
	space   = " "
	dash    = "-"
	colon   = ":"
	newline = "\n"
	indent  = space + space + space + space
	divider = dash + dash + dash + dash + newline
	width   = 80
)

func line(to []byte, dent, text string) []byte {
	to = append(to, dent...)
	to = append(to, text...)
	to = append(to, newline...)
	return to
}

func para(to []byte, dent, text string) []byte {
	to = append(to, newline...)
	fit := width - len(dent)
	var i, j, ij, ik int
	for k, r := range text {
		if unicode.IsSpace(r) {
			if ik > fit && ij != 0 {
				to = line(to, dent, text[i:j])
				i = j + 1
				ik -= ij + 1
			}
			j, ij = k, ik
		}
		ik += 1
	}
	if ik > fit && ij != 0 {
		to = line(to, dent, text[i:j])
		i = j + 1
		ik -= ij + 1
	}
	if ik != 0 {
		to = line(to, dent, text[i:])
	}
	return to
}

func sorted(m map[string]*raw.Tail) []string {
	heads := make([]string, 0, len(m))
	for head := range m {
		heads = append(heads, head)
	}
	sort.Strings(heads)
	return heads
}

// tail writes one section: its keys with defaults, its description,
// then one paragraph per key.
func tail(to []byte, dent, head string, t *raw.Tail) []byte {
	to = append(to, dent+head+colon+newline...)
	for _, seg := range t.Segs {
		to = append(to, dent+indent+seg.Label+colon+space+seg.Default+newline...)
	}
	to = para(to, dent, t.Doc)
	for _, seg := range t.Segs {
		to = para(to, dent+indent, seg.Label+colon+space+seg.Doc)
	}
	return to
}

// Bytes documents every descriptor section, then every linked operation.
func Bytes() (to []byte) {
	for i, head := range sorted(raw.Guide) {
		if i != 0 {
			to = append(to, newline+divider+newline...)
		}
		to = tail(to, empty, head, raw.Guide[head])
	}
	to = append(to, newline+divider+newline...)
	to = append(to, raw.LinkedHead+colon+newline...)
	to = para(to, empty, raw.LinkedDoc)
	for _, head := range sorted(raw.Links) {
		to = append(to, newline...)
		to = tail(to, indent, dash+space+head, raw.Links[head])
	}
	return
}
