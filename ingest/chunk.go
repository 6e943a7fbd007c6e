package ingest

import "strings"

// DefaultChunkSize is the character budget for knowledge chunks.
const DefaultChunkSize = 900

// ChunkText splits text into chunks of at most maxChars characters,
// packing whole paragraphs together and hard-splitting any single
// paragraph that exceeds the budget on its own.
func ChunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars <= 0 {
		maxChars = DefaultChunkSize
	}

	var paras []string
	for _, p := range strings.Split(text, "\n") {
		if p = strings.TrimSpace(p); p != "" {
			paras = append(paras, p)
		}
	}

	var chunks []string
	buf := ""
	for _, p := range paras {
		if len(buf)+len(p)+1 <= maxChars {
			if buf == "" {
				buf = p
			} else {
				buf = buf + "\n" + p
			}
			continue
		}
		if buf != "" {
			chunks = append(chunks, buf)
		}
		if len(p) > maxChars {
			for i := 0; i < len(p); i += maxChars {
				end := i + maxChars
				if end > len(p) {
					end = len(p)
				}
				chunks = append(chunks, p[i:end])
			}
			buf = ""
		} else {
			buf = p
		}
	}
	if buf != "" {
		chunks = append(chunks, buf)
	}
	return chunks
}
