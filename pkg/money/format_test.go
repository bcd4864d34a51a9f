package money

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	assert.Equal(t, "55.00 USD", Format(5500, "usd"))
	assert.Equal(t, "0.07", Format(7, ""))
	assert.Equal(t, "-12.30 EUR", Format(-1230, "EUR"))
}
