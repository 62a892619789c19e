package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecureJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		base     string
		elements []string
		want     string
		wantErr  bool
	}{
		{"archive root", "/srv/sd", []string{"/"}, "/srv/sd", false},
		{"absolute element", "/srv/sd", []string{"/3ds/app.3dsx"}, "/srv/sd/3ds/app.3dsx", false},
		{"relative elements", "/srv/sd", []string{"a", "b"}, "/srv/sd/a/b", false},
		{"inner dotdot", "/srv/sd", []string{"/a/../b"}, "/srv/sd/b", false},
		{"escape", "/srv/sd", []string{"/../etc/passwd"}, "", true},
		{"sibling prefix", "/srv/sd", []string{"../sdx"}, "", true},
		{"empty base", "", []string{"a"}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SecureJoin(tt.base, tt.elements...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsWithin(t *testing.T) {
	t.Parallel()

	assert.True(t, IsWithin("/srv/sd", "/srv/sd"))
	assert.True(t, IsWithin("/srv/sd/", "/srv/sd/x"))
	assert.True(t, IsWithin("/", "/anything"))
	assert.False(t, IsWithin("/srv/sd", "/srv/sdx"))
	assert.False(t, IsWithin("/srv/sd", "/srv"))
}
