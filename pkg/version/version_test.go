package version

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShortTruncatesLongRevisions(t *testing.T) {
	assert.Equal(t, "a3f8c2d1", short("a3f8c2d1e9b07f44"))
	assert.Equal(t, "dev", short("dev"))
}

func TestFullCarriesAppName(t *testing.T) {
	assert.True(t, strings.HasPrefix(Full(), "briefly/"))
	assert.NotEmpty(t, GitCommit)
}
