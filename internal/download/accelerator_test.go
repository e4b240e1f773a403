package download

import "testing"

func TestParseByteSizeHandlesBinaryUnits(t *testing.T) {
	cases := map[string]int64{
		"512B":    512,
		"12KiB":   12 * 1024,
		"3.5MiB":  int64(3.5 * 1024 * 1024),
		"1.0GiB":  1024 * 1024 * 1024,
	}
	for input, want := range cases {
		if got := parseByteSize(input); got != want {
			t.Fatalf("parseByteSize(%q) = %d, want %d", input, got, want)
		}
	}
}

func TestParseAcceleratorLineExtractsSizeAndSpeed(t *testing.T) {
	line := "[#1 SIZE:12.0MiB/100.0MiB(12%) CN:16 DL:3.1MiB/s ETA:28s]"
	downloaded, total, speed, ok := parseAcceleratorLine(line)
	if !ok {
		t.Fatalf("expected line to be recognized as progress output")
	}
	if downloaded != 12*1024*1024 || total != 100*1024*1024 {
		t.Fatalf("unexpected downloaded/total: %d/%d", downloaded, total)
	}
	if speed != float64(3.1*1024*1024) {
		t.Fatalf("unexpected speed: %v", speed)
	}
}

func TestParseAcceleratorLineRejectsNonProgressLines(t *testing.T) {
	if _, _, _, ok := parseAcceleratorLine("Download Results:"); ok {
		t.Fatalf("expected banner line to not be recognized as progress")
	}
}

func TestScanLinesOrCarriageReturnsSplitsOnBareCR(t *testing.T) {
	data := []byte("line one\rline two\n")
	advance, token, err := scanLinesOrCarriageReturns(data, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(token) != "line one" || advance != 9 {
		t.Fatalf("unexpected split: advance=%d token=%q", advance, token)
	}
}

func TestNewAcceleratorReturnsNilWhenPathEmpty(t *testing.T) {
	if NewAccelerator("", 16, 16) != nil {
		t.Fatalf("expected nil accelerator when path is empty")
	}
}

func TestAcceleratorShouldLogUnavailableFiresOnce(t *testing.T) {
	a := NewAccelerator("/nonexistent/aria2c", 16, 16)
	if !a.ShouldLogUnavailable() {
		t.Fatalf("expected first call to report true")
	}
	if a.ShouldLogUnavailable() {
		t.Fatalf("expected second call to report false")
	}
}
