package parser

import (
	"strings"

	"github.com/k3a/html2text"
)

// htmlToText converts an HTML body into a plain-text rendering with markup
// and links stripped.
func htmlToText(htmlContent string) string {
	if htmlContent == "" {
		return ""
	}
	return cleanupWhitespace(html2text.HTML2Text(htmlContent))
}

// cleanupWhitespace removes excessive blank lines while preserving structure
func cleanupWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	var result []string
	blankCount := 0

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			blankCount++
			// Allow max 2 consecutive blank lines
			if blankCount <= 2 {
				result = append(result, "")
			}
		} else {
			blankCount = 0
			result = append(result, line)
		}
	}

	return strings.TrimSpace(strings.Join(result, "\n"))
}
