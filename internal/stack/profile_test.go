package stack

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(m map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestResolveProfile(t *testing.T) {
	base := map[string]string{"project": "wordpress", "env": "dev", "image": "wordpress:6"}

	p, err := ResolveProfile(ProfileDev, lookupFrom(base))
	require.NoError(t, err)
	assert.Equal(t, Dev{}, p.Variant)
	assert.False(t, p.IsProd())
	assert.Equal(t, "wordpress-dev", p.Prefix())
	assert.Equal(t, "wordpress:6", p.Image)
}

func TestResolveProfile_DevIgnoresDomain(t *testing.T) {
	p, err := ResolveProfile(ProfileDev, lookupFrom(map[string]string{
		"project": "wordpress", "env": "dev", "image": "wordpress:6", "domain": "example.com",
	}))
	require.NoError(t, err)
	assert.Equal(t, Dev{}, p.Variant)
}

func TestResolveProfile_Prod(t *testing.T) {
	p, err := ResolveProfile(ProfileProd, lookupFrom(map[string]string{
		"project": "wordpress", "env": "prod", "image": "wordpress:6", "domain": " example.com ",
	}))
	require.NoError(t, err)
	assert.True(t, p.IsProd())
	assert.Equal(t, Prod{Domain: "example.com"}, p.Variant)
}

func TestResolveProfile_ProdRequiresDomain(t *testing.T) {
	for name, cfg := range map[string]map[string]string{
		"missing": {"project": "wordpress", "env": "prod", "image": "wordpress:6"},
		"empty":   {"project": "wordpress", "env": "prod", "image": "wordpress:6", "domain": ""},
		"blank":   {"project": "wordpress", "env": "prod", "image": "wordpress:6", "domain": "   "},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ResolveProfile(ProfileProd, lookupFrom(cfg))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMissingConfig))

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, "domain", cerr.Field)
			assert.Equal(t, ProfileProd, cerr.Profile)
		})
	}
}

func TestResolveProfile_MissingFields(t *testing.T) {
	tests := []struct {
		field string
		cfg   map[string]string
	}{
		{"project", map[string]string{"env": "dev", "image": "wordpress:6"}},
		{"env", map[string]string{"project": "wordpress", "image": "wordpress:6"}},
		{"image", map[string]string{"project": "wordpress", "env": "dev"}},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			_, err := ResolveProfile(ProfileDev, lookupFrom(tt.cfg))
			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.field, cerr.Field)
			assert.Contains(t, err.Error(), "wordpress-serverless:"+tt.field)
		})
	}
}

func TestResolveProfile_UnknownKey(t *testing.T) {
	_, err := ResolveProfile("staging", lookupFrom(map[string]string{
		"project": "wordpress", "env": "staging", "image": "wordpress:6",
	}))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownProfile))
	assert.False(t, errors.Is(err, ErrMissingConfig))
}
