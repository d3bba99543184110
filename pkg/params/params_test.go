package params

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDefaultDeltaIsZero(t *testing.T) {
	require.Equal(t, 0.0, Default().Delta(Default()))
}

func TestEntriesRoundTrip(t *testing.T) {
	v := Default()
	v.TemporalWeight = 0.5
	v.ResourceWeight = 0.3
	v.DependencyWeight = 0.2

	rebuilt := FromEntries(v.Entries())
	require.Equal(t, v, rebuilt)
}

func TestYAMLRoundTrip(t *testing.T) {
	v := Default()
	out, err := yaml.Marshal(v)
	require.NoError(t, err)

	var rebuilt Vector
	require.NoError(t, yaml.Unmarshal(out, &rebuilt))
	require.Equal(t, v, rebuilt)
}

func TestSetUnknownNameIgnored(t *testing.T) {
	v := Default()
	v.Set("nonexistent", 99)
	require.Equal(t, Default(), v)
}
