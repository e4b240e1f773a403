package download

import (
	"strings"
	"testing"
)

func TestSanitizeFilenameStripsReservedChars(t *testing.T) {
	got := SanitizeFilename(`ep:1<title>?.mp4`)
	if strings.ContainsAny(got, reservedChars) {
		t.Fatalf("expected no reserved characters, got %q", got)
	}
}

func TestSanitizeFilenameTrimsTrailingDotsAndSpaces(t *testing.T) {
	got := SanitizeFilename("episode 1.   ")
	if strings.HasSuffix(got, ".") || strings.HasSuffix(got, " ") {
		t.Fatalf("expected trailing dots/spaces trimmed, got %q", got)
	}
}

func TestSanitizeFilenameIsIdempotent(t *testing.T) {
	inputs := []string{
		`weird<>:"/\|?*name.mp4`,
		"normal episode title.mkv",
		"   leading and trailing   .",
		strings.Repeat("a", 400) + ".mp4",
	}
	for _, in := range inputs {
		once := SanitizeFilename(in)
		twice := SanitizeFilename(once)
		if once != twice {
			t.Fatalf("not idempotent for %q: once=%q twice=%q", in, once, twice)
		}
	}
}

func TestSanitizeFilenamePreservesExtensionWhenTruncating(t *testing.T) {
	long := strings.Repeat("a", 400) + ".mp4"
	got := SanitizeFilename(long)
	if len(got) > 255 {
		t.Fatalf("expected length <= 255, got %d", len(got))
	}
	if !strings.HasSuffix(got, ".mp4") {
		t.Fatalf("expected extension preserved, got %q", got)
	}
}

func TestSanitizeFilenameEmptyBecomesUntitled(t *testing.T) {
	if got := SanitizeFilename("   ..."); got != "untitled" {
		t.Fatalf("expected fallback to \"untitled\", got %q", got)
	}
}
