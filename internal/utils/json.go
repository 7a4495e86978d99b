package utils

import (
	"encoding/json"

	"k8s.io/klog/v2"
)

// ExtractJSON returns the first balanced top-level JSON object embedded in
// the text. Model responses often wrap JSON in prose or code fences; the
// scan tolerates both. Returns the input unchanged when no object is found.
func ExtractJSON(content string) string {
	start := -1
	end := -1
	depth := 0

	for i, ch := range content {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			depth--
			if depth == 0 && start != -1 {
				end = i + 1
				break
			}
		}
	}

	if start >= 0 && end > start {
		return content[start:end]
	}

	return content
}

func ToJSON(v any) string {
	jsonData, err := json.Marshal(v)
	if err != nil {
		klog.Errorf("JSON marshal failed: %v", err)
		return ""
	}
	return string(jsonData)
}

// ExtractMarkdown strips a surrounding ```markdown code fence if the model
// wrapped its output in one; otherwise the content is returned as is.
func ExtractMarkdown(content string) string {
	start := -1
	end := -1
	depth := 0
	inCodeBlock := false
	codeBlockPrefix := "```"

	for i := 0; i < len(content); {
		if i+3 <= len(content) && content[i:i+3] == codeBlockPrefix {
			if !inCodeBlock {
				inCodeBlock = true
				j := i + 3
				// skip an optional "markdown" language tag and whitespace
				for j < len(content) && (content[j] == ' ' || content[j] == 'm' || content[j] == 'M' ||
					content[j] == 'a' || content[j] == 'r' || content[j] == 'k' || content[j] == 'd' ||
					content[j] == 'o' || content[j] == 'w' || content[j] == 'n') {
					j++
				}
				for j < len(content) && (content[j] == '\r' || content[j] == '\n') {
					j++
				}
				if depth == 0 {
					start = j
				}
				depth++
				i = j
			} else {
				depth--
				if depth == 0 && start != -1 {
					end = i
					break
				}
				inCodeBlock = false
				i += 3
			}
		} else {
			i++
		}
	}

	if start >= 0 && end > start {
		klog.V(6).Infof("[ExtractMarkdown] code fence stripped: start=%d, end=%d", start, end)
		return content[start:end]
	}

	return content
}
