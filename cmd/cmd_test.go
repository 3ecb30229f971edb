package cmd

import (
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseData(t *testing.T) {
	fields, err := parseData(`{"type":"Fridge","monthlyCost":9.5}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"type": "Fridge", "monthlyCost": 9.5}, fields)

	fields, err = parseData("")
	require.NoError(t, err)
	assert.Empty(t, fields)

	_, err = parseData(`["not","an","object"]`)
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.Empty(t, readContext().Token)

	writeContext(Context{Token: "abc.def.ghi"})
	assert.Equal(t, "abc.def.ghi", readContext().Token)

	writeContext(Context{})
	assert.Empty(t, readContext().Token)
}

func TestCheckMissingFlags(t *testing.T) {
	command := &cobra.Command{Use: "test"}
	command.Flags().String("file", "", "")
	command.SetOut(&discard{})

	assert.True(t, checkMissingFlags(command, []string{"file"}))

	require.NoError(t, command.Flags().Set("file", "out.gz"))
	assert.False(t, checkMissingFlags(command, []string{"file"}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
