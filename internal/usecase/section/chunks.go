package section

// ChunkLimit ограничивает размер одного InsertText в рунах.
const ChunkLimit = 30000

// Chunks режет текст на части не длиннее limit рун. Разрез делается после
// последнего перевода строки в окне, если он есть. Склейка частей даёт
// исходный текст без изменений.
func Chunks(text string, limit int) []string {
	if text == "" {
		return nil
	}
	if limit <= 0 {
		limit = ChunkLimit
	}

	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}

	var parts []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			parts = append(parts, string(runes[start:]))
			break
		}

		split := -1
		for i := end; i > start; i-- {
			if runes[i-1] == '\n' {
				split = i
				break
			}
		}
		if split == -1 {
			split = end
		}

		parts = append(parts, string(runes[start:split]))
		start = split
	}
	return parts
}
