package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInfo(t *testing.T) {
	v, c, d := Info()
	assert.Equal(t, Version, v)
	assert.Equal(t, GitCommit, c)
	assert.Equal(t, BuildDate, d)
}

func TestUserAgent(t *testing.T) {
	prev := Version
	t.Cleanup(func() { Version = prev })

	Version = "1.4.0"
	assert.Equal(t, "idcap/1.4.0", UserAgent())
}
