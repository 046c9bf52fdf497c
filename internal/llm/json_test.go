package llm

import "testing"

func TestExtractFirstJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"Here you go:\n```json\n{\"a\":{\"b\":2}}\n```", `{"a":{"b":2}}`},
		{`prefix {"x":"y"} suffix {"z":1}`, `{"x":"y"}`},
		{`no json here`, `no json here`},
	}
	for _, c := range cases {
		if got := ExtractFirstJSON(c.in); got != c.want {
			t.Fatalf("ExtractFirstJSON(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
