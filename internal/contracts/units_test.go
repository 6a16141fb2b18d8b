package contracts

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatEther(t *testing.T) {
	wei, _ := new(big.Int).SetString("1250000000000000000", 10)
	assert.Equal(t, "1.25", FormatEther(wei))
	assert.Equal(t, "0", FormatEther(big.NewInt(0)))
	assert.Equal(t, "0", FormatEther(nil))
	assert.Equal(t, "0.000000000000000001", FormatEther(big.NewInt(1)))
}

func TestParseEther(t *testing.T) {
	wei, err := ParseEther("0.05")
	require.NoError(t, err)
	assert.Equal(t, "50000000000000000", wei.String())

	_, err = ParseEther("-1")
	assert.Error(t, err)

	_, err = ParseEther("0.0000000000000000001")
	assert.Error(t, err)

	_, err = ParseEther("abc")
	assert.Error(t, err)
}
