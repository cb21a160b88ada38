package main

import "strings"

// canonicalizeNick converts the given nick to its canonical representation
// (which must be unique).
func canonicalizeNick(n string) string {
	return strings.ToLower(n)
}

// canonicalizeChannel converts the given channel name to its canonical
// representation (which must be unique).
func canonicalizeChannel(c string) string {
	return strings.ToLower(c)
}

// isValidNick checks if a nickname is acceptable. Only letters and underscore
// are allowed, up to maxNickLength characters.
func isValidNick(n string) bool {
	if len(n) == 0 || len(n) > maxNickLength {
		return false
	}

	for _, char := range n {
		if char >= 'A' && char <= 'Z' {
			continue
		}
		if char >= 'a' && char <= 'z' {
			continue
		}
		if char == '_' {
			continue
		}

		return false
	}

	return true
}

// isValidChannelName checks a configured channel name. Letters, digits, and
// underscore are allowed. The leading # is not part of the name.
func isValidChannelName(c string) bool {
	if len(c) == 0 {
		return false
	}

	for _, char := range c {
		if char >= 'A' && char <= 'Z' {
			continue
		}
		if char >= 'a' && char <= 'z' {
			continue
		}
		if char >= '0' && char <= '9' {
			continue
		}
		if char == '_' {
			continue
		}

		return false
	}

	return true
}

// commaChannels splits a comma separated channel parameter into canonical
// names, stripping an optional leading # from each element.
func commaChannels(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		name = strings.TrimPrefix(name, "#")
		names = append(names, canonicalizeChannel(name))
	}
	return names
}
