package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfoDefault(t *testing.T) {
	info := Info()
	assert.Contains(t, info, "supportchat")
	assert.Contains(t, info, Version)
	assert.Contains(t, info, runtime.GOOS+"/"+runtime.GOARCH)
}

func TestCurrentShortensCommit(t *testing.T) {
	origVersion, origCommit, origDate := Version, Commit, Date
	t.Cleanup(func() {
		Version, Commit, Date = origVersion, origCommit, origDate
	})

	Version = "0.4.0"
	Commit = "9f2c1e7d0b5a"
	Date = "2026-09-30"

	b := Current()
	assert.Equal(t, "0.4.0", b.Version)
	assert.Equal(t, "9f2c1e7", b.Commit)
	assert.Equal(t, "2026-09-30", b.Date)
	assert.NotContains(t, Info(), "9f2c1e7d0b5a")
}

func TestShort(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"abcdefghij", "abcdefg"},
		{"abc", "abc"},
		{"", ""},
		{"12345678", "1234567"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, short(tt.input))
		})
	}
}
