package masking

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "", MaskSecret("  "))
	assert.Equal(t, "acct_****WXYZ", MaskSecret("acct_1ABCDWXYZ"))
	assert.Equal(t, "acct_****", MaskSecret("acct_XYZ"))
	assert.Equal(t, "****6789", MaskSecret("123456789"))
}

func TestMaskEmail(t *testing.T) {
	assert.Equal(t, "j****@example.com", MaskEmail("jane@example.com"))
	assert.Equal(t, "****", MaskEmail("abc"))
}
