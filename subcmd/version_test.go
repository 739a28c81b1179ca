package subcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVersionString(t *testing.T) {
	v := &Version{
		path:      "github.com/mengelbart/icesrc",
		version:   "v0.1.0",
		gitCommit: "abc",
		goVersion: "go1.25.2",
		deps: map[string]string{
			"github.com/pion/ice/v4": "v4.2.0",
		},
	}
	out := v.String()
	assert.Contains(t, out, "github.com/mengelbart/icesrc\n")
	assert.Contains(t, out, "Version:\tv0.1.0")
	assert.Contains(t, out, "github.com/pion/ice/v4:\tv4.2.0")
	assert.NotContains(t, out, "go-gst")

	assert.NotNil(t, newVersion().deps)
}
