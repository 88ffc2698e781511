package classifier

import "strings"

// reservedDirName is a directory the archive walk must never descend into.
const reservedDirName = "database"

// ParseSkipExtensions splits a comma-separated extension list into
// lowercased, trimmed suffixes. Empty entries are discarded.
func ParseSkipExtensions(raw string) []string {
	parts := strings.Split(raw, ",")
	exts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" {
			continue
		}
		exts = append(exts, p)
	}
	return exts
}

// ShouldSkipFile reports whether a file name is excluded from archiving.
// Hidden files are skipped when skipHidden is set; extension suffixes are
// matched case-insensitively against the parsed skip list.
func ShouldSkipFile(name string, skipHidden bool, skipExtensions []string) bool {
	if skipHidden && strings.HasPrefix(name, ".") {
		return true
	}

	lower := strings.ToLower(name)
	for _, ext := range skipExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

// ShouldSkipDirectory reports whether the archive walk should prune a
// directory before descending into it. The reserved database folder and
// any underscore-prefixed folder are never traversed.
func ShouldSkipDirectory(name string) bool {
	return name == reservedDirName || strings.HasPrefix(name, "_")
}
