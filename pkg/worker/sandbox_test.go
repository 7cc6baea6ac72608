package worker

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrependPath(t *testing.T) {
	join := func(parts ...string) string { return strings.Join(parts, string(os.PathListSeparator)) }

	tests := []struct {
		name    string
		current string
		extra   []string
		want    string
	}{
		{"nothing to add", join("/a", "/b"), nil, join("/a", "/b")},
		{"all present", join("/a", "/b"), []string{"/b", "/a"}, join("/a", "/b")},
		{"order kept", join("/a"), []string{"/x", "/y"}, join("/x", "/y", "/a")},
		{"skip present", join("/a"), []string{"/x", "/a", "/y"}, join("/x", "/y", "/a")},
		{"empty current", "", []string{"/x"}, "/x"},
		{"duplicates and blanks", "", []string{"/x", "", "/x"}, "/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, prependPath(tt.current, tt.extra))
		})
	}
}
