package pathenc_test

import (
	"strings"
	"testing"

	"github.com/csweichel/chainfs/pkg/pathenc"
	"github.com/google/go-cmp/cmp"
)

func TestEncodePath(t *testing.T) {
	type Expectation struct {
		Segments []string
		Err      string
	}
	tests := []struct {
		Name        string
		Path        string
		Expectation Expectation
	}{
		{Name: "root", Path: "/", Expectation: Expectation{Segments: []string{}}},
		{Name: "empty", Path: "", Expectation: Expectation{Segments: []string{}}},
		{Name: "single", Path: "/test_file", Expectation: Expectation{Segments: []string{"test_file"}}},
		{Name: "nested", Path: "/test_dir/test_file", Expectation: Expectation{Segments: []string{"test_dir", "test_file"}}},
		{Name: "trailing slash", Path: "/a/b/", Expectation: Expectation{Segments: []string{"a", "b"}}},
		{Name: "empty interior", Path: "/a//b", Expectation: Expectation{Err: pathenc.ErrInvalidPath.Error()}},
		{Name: "too long", Path: "/" + strings.Repeat("x", 33), Expectation: Expectation{Err: pathenc.ErrNameTooLong.Error()}},
		{Name: "exactly wide", Path: "/" + strings.Repeat("x", 32), Expectation: Expectation{Segments: []string{strings.Repeat("x", 32)}}},
		{Name: "nul byte", Path: "/a\x00b", Expectation: Expectation{Err: pathenc.ErrInvalidPath.Error()}},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			var act Expectation
			res, err := pathenc.EncodePath(test.Path)
			if err != nil {
				act.Err = err.Error()
			} else {
				act.Segments = make([]string, 0, len(res))
				for _, s := range res {
					act.Segments = append(act.Segments, pathenc.Decode(s))
				}
			}

			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("EncodePath() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeStripsFill(t *testing.T) {
	fixed := pathenc.Fixed(pathenc.Encode("user.note"))
	if got := pathenc.Decode(fixed[:]); got != "user.note" {
		t.Errorf("Decode() = %q, want %q", got, "user.note")
	}
	if got := pathenc.Decode(make([]byte, pathenc.SegmentSize)); got != "" {
		t.Errorf("Decode(zeros) = %q, want empty", got)
	}
}

func TestJoin(t *testing.T) {
	tests := []struct{ Dir, Name, Want string }{
		{"/", "a", "/a"},
		{"", "a", "/a"},
		{"/a", "b", "/a/b"},
		{"/a/", "b", "/a/b"},
	}
	for _, test := range tests {
		if got := pathenc.Join(test.Dir, test.Name); got != test.Want {
			t.Errorf("Join(%q, %q) = %q, want %q", test.Dir, test.Name, got, test.Want)
		}
	}
}
