package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	fm := NewFingerprintManager()

	first := fm.Generate()
	second := fm.Generate()

	require.NotNil(t, first)
	assert.Equal(t, first.Fingerprint, second.Fingerprint, "same process must yield byte-identical output")
	assert.Same(t, first, second, "fingerprint is computed once per process")
}

func TestGenerateAcrossManagers(t *testing.T) {
	// Two managers model two process lifetimes on the same machine
	a := NewFingerprintManager().Generate()
	b := NewFingerprintManager().Generate()

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
}

func TestFingerprintFormat(t *testing.T) {
	fp := NewFingerprintManager().Generate()

	assert.Len(t, fp.Fingerprint, 16)
	assert.Regexp(t, regexp.MustCompile(`^[0-9A-F]{16}$`), fp.Fingerprint)
}

func TestDigest(t *testing.T) {
	tests := []struct {
		name    string
		factors []string
	}{
		{"typical factors", []string{"aa:bb:cc:dd:ee:ff", "workstation", "alice", "linux", "amd64"}},
		{"empty fallbacks", []string{"", "", "", "linux", "amd64"}},
		{"all empty", []string{"", "", "", "", ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			first := digest(tt.factors...)
			second := digest(tt.factors...)

			assert.Equal(t, first, second)
			assert.Len(t, first, 16)
			assert.Regexp(t, `^[0-9A-F]{16}$`, first)
		})
	}
}

func TestDigestDistinguishesInputs(t *testing.T) {
	a := digest("aa:bb:cc:dd:ee:ff", "host-a", "alice", "linux", "amd64")
	b := digest("aa:bb:cc:dd:ee:ff", "host-b", "alice", "linux", "amd64")
	assert.NotEqual(t, a, b)
}

func TestValidate(t *testing.T) {
	fm := NewFingerprintManager()
	current := fm.Generate().Fingerprint

	assert.True(t, fm.Validate(current))
	assert.False(t, fm.Validate("0000000000000000"))
	assert.False(t, fm.Validate(""))
}

func TestComponents(t *testing.T) {
	components := NewFingerprintManager().Components()

	for _, key := range []string{"mac_address", "hostname", "username", "os", "platform"} {
		_, ok := components[key]
		assert.True(t, ok, "missing component %q", key)
	}
	assert.NotEmpty(t, components["os"])
	assert.NotEmpty(t, components["platform"])
}
