package enum_test

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platformsync/releaseflow/internal/flags/enum"
)

func TestEnum(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	enum.VarP(flags, "scope", "s", []string{"patch", "minor", "major"}, "resolution scope")
	flags.String("plain", "", "")

	v, err := enum.Get(flags, "scope")
	require.NoError(t, err)
	assert.Equal(t, "patch", v, "first option is the default")

	require.NoError(t, flags.Parse([]string{"-s", "minor"}))
	v, err = enum.Get(flags, "scope")
	require.NoError(t, err)
	assert.Equal(t, "minor", v)

	err = flags.Parse([]string{"--scope", "build"})
	assert.ErrorContains(t, err, "must be one of patch, minor, major")

	_, err = enum.Get(flags, "plain")
	assert.Error(t, err)
	_, err = enum.Get(flags, "missing")
	assert.Error(t, err)

	assert.Contains(t, flags.Lookup("scope").Usage, "must be one of patch, minor, major")
}
