package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStrength(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"empty", "", true},
		{"common word", "password", true},
		{"too long", strings.Repeat("k7#Vq9!mPz$2rT@x", 65), true},
		{"strong", "k7#Vq9!mPz$2rT@xW4&nL", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStrength(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}

	assert.ErrorIs(t, ValidateStrength(""), ErrEmpty)
}
