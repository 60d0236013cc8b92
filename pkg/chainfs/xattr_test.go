package chainfs

import (
	"syscall"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"
)

func TestFit(t *testing.T) {
	type Expectation struct {
		N     uint32
		Errno syscall.Errno
		Dest  string
	}
	tests := []struct {
		Name        string
		Dest        int
		Value       string
		Expectation Expectation
	}{
		{Name: "size probe", Dest: 0, Value: "hello", Expectation: Expectation{N: 5}},
		{Name: "exact", Dest: 5, Value: "hello", Expectation: Expectation{N: 5, Dest: "hello"}},
		{Name: "larger dest", Dest: 8, Value: "hi", Expectation: Expectation{N: 2, Dest: "hi"}},
		{Name: "short dest", Dest: 3, Value: "hello", Expectation: Expectation{Errno: unix.ERANGE}},
		{Name: "empty value", Dest: 4, Value: "", Expectation: Expectation{}},
	}
	for _, test := range tests {
		t.Run(test.Name, func(t *testing.T) {
			dest := make([]byte, test.Dest)
			var act Expectation
			act.N, act.Errno = fit(dest, []byte(test.Value))
			if act.Errno == 0 && test.Dest > 0 {
				act.Dest = string(dest[:act.N])
			}

			if diff := cmp.Diff(test.Expectation, act); diff != "" {
				t.Errorf("fit() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNameList(t *testing.T) {
	if diff := cmp.Diff("user.a\x00user.bb\x00", string(nameList([]string{"user.a", "user.bb"}))); diff != "" {
		t.Errorf("nameList() mismatch (-want +got):\n%s", diff)
	}
	if got := nameList(nil); len(got) != 0 {
		t.Errorf("nameList(nil) = %q, want empty", got)
	}
}
