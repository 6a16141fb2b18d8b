package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		uri  string
		want string
	}{
		{"empty", "", ""},
		{"data uri", "data:application/json;base64,eyJuYW1lIjoiVGVzdCJ9", ""},
		{"ipfs scheme", "ipfs://Qm123", ""},
		{"ipfs scheme uppercase", "IPFS://Qm123", ""},
		{"ipfs gateway path", "https://gateway.pinata.cloud/ipfs/Qm123", ""},
		{"arweave scheme", "ar://abc", ""},
		{"arweave host", "https://arweave.net/abc", ""},
		{"plain https", "https://example.com/x.json", MutableStorageWarning},
		{"inline json", `{"name":"x"}`, MutableStorageWarning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.uri))
		})
	}
}

func TestValidateCID(t *testing.T) {
	assert.NoError(t, ValidateCID(validCID))
	assert.NoError(t, ValidateCID("bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi"))
	assert.ErrorIs(t, ValidateCID("Qm123"), ErrInvalidCID)
	assert.ErrorIs(t, ValidateCID("Qm0OIl"), ErrInvalidCID)
}
