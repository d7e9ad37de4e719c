package wire

import "unicode/utf8"

// CutMessage hard-splits text into fragments of at most max bytes,
// cutting on rune boundaries. Used for outbound PRIVMSG lines so a
// long message never exceeds the server's line-length limit.
func CutMessage(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	result := make([]string, 0, len(text)/max+1)
	current := ""
	for _, r := range text {
		if len(current)+utf8.RuneLen(r) > max {
			result = append(result, current)
			current = ""
		}
		current += string(r)
	}
	if current != "" {
		result = append(result, current)
	}
	return result
}

// CutMessageWords splits text into fragments of at most max bytes,
// preferring word boundaries. A single token longer than max falls
// back to a hard split. Used by the agent bridge so replies read
// naturally across fragments.
func CutMessageWords(text string, max int) []string {
	if len(text) <= max {
		return []string{text}
	}
	var result []string
	for len(text) > max {
		split := -1
		for i := max; i > 0; i-- {
			if text[i-1] == ' ' {
				split = i - 1
				break
			}
		}
		if split <= 0 {
			cut := CutMessage(text, max)
			result = append(result, cut[0])
			text = text[len(cut[0]):]
			continue
		}
		result = append(result, text[:split])
		text = trimLeadingSpace(text[split:])
	}
	if text != "" {
		result = append(result, text)
	}
	return result
}

func trimLeadingSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	return s
}
