package change

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "ADD", Add.String())
	assert.Equal(t, "DELETE", Delete.String())
	assert.Equal(t, "MODIFY", Modify.String())
	assert.Equal(t, "Unknown", Kind(0).String())
	assert.Equal(t, "Unknown", Kind(99).String())
}
