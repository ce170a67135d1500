package sources

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Bafix001/zibridge/pkg/connectors"
	apperrors "github.com/Bafix001/zibridge/pkg/errors"
)

func TestNew(t *testing.T) {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	path := filepath.Join(t.TempDir(), "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("company_name\nAcme\n"), 0o600))

	cases := []struct {
		cfg  Config
		want string
	}{
		{Config{Type: "HubSpot", Token: "t"}, connectors.SourceHubSpot},
		{Config{Type: "csv", Path: path}, connectors.SourceFile},
		{Config{Type: "file", Path: path}, connectors.SourceFile},
		{Config{Type: "memory"}, connectors.SourceMemory},
	}
	for _, tc := range cases {
		t.Run(tc.cfg.Type, func(t *testing.T) {
			c, err := New(tc.cfg, logger)
			require.NoError(t, err)
			assert.Equal(t, tc.want, c.SourceType())
		})
	}

	t.Run("unknown source", func(t *testing.T) {
		_, err := New(Config{Type: "salesforce"}, logger)
		assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, err := New(Config{Type: "hubspot"}, logger)
		assert.Equal(t, apperrors.KindInvalid, apperrors.KindOf(err))
	})
}
