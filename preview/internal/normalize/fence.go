package normalize

import "strings"

// codeLangs are fence info strings that denote component source.
var codeLangs = map[string]bool{
	"": true, "tsx": true, "jsx": true, "ts": true, "js": true,
	"typescript": true, "javascript": true, "react": true,
}

type fencedBlock struct {
	lang string
	body string
}

// unwrapFence extracts the component source from markdown-formatted output.
// The longest code-like fenced block wins. An unterminated fence (streaming
// output) extends to the end of the payload. Without fences the input is
// returned unchanged.
func unwrapFence(s string) (string, bool) {
	lines := strings.Split(s, "\n")
	var blocks []fencedBlock
	var outside []string
	var cur *fencedBlock
	var body []string
	found := false

	for _, ln := range lines {
		trimmed := strings.TrimSpace(ln)
		if strings.HasPrefix(trimmed, "```") {
			found = true
			if cur == nil {
				cur = &fencedBlock{lang: strings.ToLower(strings.TrimSpace(strings.TrimLeft(trimmed, "`")))}
				body = body[:0]
				continue
			}
			cur.body = strings.Join(body, "\n")
			blocks = append(blocks, *cur)
			cur = nil
			continue
		}
		if cur != nil {
			body = append(body, ln)
		} else {
			outside = append(outside, ln)
		}
	}
	if !found {
		return s, false
	}
	if cur != nil {
		cur.body = strings.Join(body, "\n")
		blocks = append(blocks, *cur)
	}

	best := -1
	for i, b := range blocks {
		if strings.TrimSpace(b.body) == "" {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		bestCode, code := codeLangs[blocks[best].lang], codeLangs[b.lang]
		if code && !bestCode || code == bestCode && len(b.body) > len(blocks[best].body) {
			best = i
		}
	}
	if best < 0 {
		// Only stray fence markers: keep whatever surrounded them.
		return strings.Join(outside, "\n"), true
	}
	return blocks[best].body, true
}
