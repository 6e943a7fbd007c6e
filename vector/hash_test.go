package vector

import "testing"

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"weld seam cracked", "weld seam cracked"},
		{"  weld   seam\tcracked \n", "weld seam cracked"},
		{"", ""},
		{"   \t\n ", ""},
	}
	for _, c := range cases {
		if got := Normalize(c.in); got != c.want {
			t.Errorf("Normalize(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestContentHashStableUnderFormatting(t *testing.T) {
	a := ContentHash([]string{"t1", "chk-1"}, "weld seam cracked near flange")
	b := ContentHash([]string{"t1", "chk-1"}, "  weld   seam cracked\nnear  flange ")
	if a != b {
		t.Error("formatting-only edit changed the content hash")
	}
}

func TestContentHashDiscriminators(t *testing.T) {
	base := ContentHash([]string{"t1", "chk-1"}, "same text")
	otherEntity := ContentHash([]string{"t1", "chk-2"}, "same text")
	otherText := ContentHash([]string{"t1", "chk-1"}, "different text")

	if base == otherEntity {
		t.Error("different discriminators should produce different hashes")
	}
	if base == otherText {
		t.Error("different text should produce different hashes")
	}

	// Discriminator boundaries must not be ambiguous.
	joined := ContentHash([]string{"ab"}, "c")
	split := ContentHash([]string{"a"}, "b|c")
	if joined == split {
		t.Error("discriminator boundary collision")
	}
}
