package cli

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

func TestRootCommandRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"--format", "yaml", "project", "list"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "yaml"`)
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"serve", "migrate", "project", "sync", "snapshot", "diff", "restore"} {
		found, _, err := cmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, found.Name())
	}
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("0b6f2c1e-2a5d-4f7e-9b1a-3c2d1e0f9a8b")
	require.NoError(t, err)
	assert.Len(t, ids, 1)

	_, err = parseIDs("latest")
	assert.True(t, apperrors.IsInvalid(err))
}

func TestOutput(t *testing.T) {
	var buf bytes.Buffer
	v := map[string]int{"created": 2}

	require.NoError(t, output(&RootOptions{Format: "json"}, &buf, v, func(w io.Writer) { _, _ = io.WriteString(w, "text") }))
	assert.JSONEq(t, `{"created":2}`, buf.String())

	buf.Reset()
	require.NoError(t, output(&RootOptions{Format: "text"}, &buf, v, func(w io.Writer) { _, _ = io.WriteString(w, "text") }))
	assert.Equal(t, "text", buf.String())
}
