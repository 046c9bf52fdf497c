package llm

// ExtractFirstJSON returns the first balanced JSON object embedded in s.
// Models frequently wrap JSON in prose or code fences; callers unmarshal the
// extracted object and fall back to the raw string when none is found.
func ExtractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}
