package block

import "testing"

func TestNormalizeText_TrimsTrailingWhitespace(t *testing.T) {
	got := normalizeText("def foo():   \n    return 1\t\n")
	want := "def foo():\n    return 1"

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeText_DropsBlankLeadingAndTrailingLines(t *testing.T) {
	got := normalizeText("\n\n  def foo():\n    pass\n\n\n")
	want := "  def foo():\n    pass"

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeText_PreservesInteriorBlankLines(t *testing.T) {
	got := normalizeText("def foo():\n\n    pass\n")
	want := "def foo():\n\n    pass"

	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExtractBody_ClampsToFileBounds(t *testing.T) {
	lines := []string{"a", "b", "c"}

	if got := extractBody(lines, 0, 10); got != "a\nb\nc" {
		t.Fatalf("got %q", got)
	}

	if got := extractBody(lines, 2, 2); got != "b" {
		t.Fatalf("got %q", got)
	}

	if got := extractBody(lines, 5, 2); got != "" {
		t.Fatalf("expected empty for inverted range, got %q", got)
	}
}
