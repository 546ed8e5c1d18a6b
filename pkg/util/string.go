package util

import (
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// FillPlaceholders replaces {{key}} in content with data[key] for every key in
// data, ignoring case. Placeholders without a key in data are left in place.
func FillPlaceholders(content string, data map[string]string) string {
	for key, value := range data {
		if key == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)\{\{` + regexp.QuoteMeta(key) + `\}\}`)
		if err != nil {
			continue
		}
		content = re.ReplaceAllLiteralString(content, value)
	}
	return content
}

// ExtractPlaceholders returns the distinct placeholder names in content in
// order of first appearance.
func ExtractPlaceholders(content string) []string {
	seen := make(map[string]struct{})
	var names []string
	for _, match := range placeholderPattern.FindAllStringSubmatch(content, -1) {
		name := match[1]
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names
}

// CleanList trims every entry and drops empty ones and duplicates.
func CleanList(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	clean := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		clean = append(clean, item)
	}
	return clean
}
