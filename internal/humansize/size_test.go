package humansize

import "testing"

func TestFormat(t *testing.T) {
	cases := map[int64]string{
		0:                 "0 B",
		512:               "512 B",
		1024:              "1.0 KB",
		5 * 1024 * 1024:   "5.0 MB",
		2 * 1024 * 1024 * 1024: "2.0 GB",
	}
	for bytes, want := range cases {
		if got := Format(bytes); got != want {
			t.Errorf("Format(%d) = %q, want %q", bytes, got, want)
		}
	}
}

func TestParse(t *testing.T) {
	cases := map[string]int64{
		"1024":   1024,
		"1KB":    1024,
		"1.5GB":  1024 * 1024 * 1024 * 3 / 2,
		"  2mb ": 2 * 1024 * 1024,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", in, err)
		}
		if got != want {
			t.Errorf("Parse(%q) = %d, want %d", in, got, want)
		}
	}

	if _, err := Parse(""); err == nil {
		t.Error("Parse(\"\") should error")
	}
}
