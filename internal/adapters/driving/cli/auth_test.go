package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configfile "github.com/custodia-labs/refsync-cli/internal/adapters/driven/config/file"
)

func setupConfigTest(t *testing.T) func() {
	t.Helper()
	store, err := configfile.NewConfigStore(t.TempDir())
	require.NoError(t, err)

	oldConfig := configStore
	configStore = store
	authSetKey = ""
	return func() {
		configStore = oldConfig
	}
}

func TestAuthSetCmd_StoresKeyFromFlag(t *testing.T) {
	defer setupConfigTest(t)()

	out, err := execute(t, "auth", "set", "--key", "sk-test-1234")

	require.NoError(t, err)
	assert.Contains(t, out, "API key stored")
	assert.Equal(t, "sk-test-1234", configStore.GetString(configfile.KeyAPIKey))
}

func TestAuthSetCmd_ReadsKeyFromStdin(t *testing.T) {
	defer setupConfigTest(t)()

	rootCmd.SetIn(strings.NewReader("sk-piped-key\n"))
	defer rootCmd.SetIn(nil)

	_, err := execute(t, "auth", "set")

	require.NoError(t, err)
	assert.Equal(t, "sk-piped-key", configStore.GetString(configfile.KeyAPIKey))
}

func TestAuthShowCmd_MasksKey(t *testing.T) {
	defer setupConfigTest(t)()
	require.NoError(t, configStore.Set(configfile.KeyAPIKey, "sk-test-1234"))

	out, err := execute(t, "auth", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "1234")
	assert.NotContains(t, out, "sk-test-1234")
}

func TestAuthShowCmd_NoKey(t *testing.T) {
	defer setupConfigTest(t)()

	out, err := execute(t, "auth", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "No API key configured")
}

func TestAuthRemoveCmd_ClearsKey(t *testing.T) {
	defer setupConfigTest(t)()
	require.NoError(t, configStore.Set(configfile.KeyAPIKey, "sk-test-1234"))

	_, err := execute(t, "auth", "remove")

	require.NoError(t, err)
	assert.Empty(t, configStore.GetString(configfile.KeyAPIKey))
}

func TestConfigSetCmd_StoresTypedValues(t *testing.T) {
	defer setupConfigTest(t)()

	_, err := execute(t, "config", "set", "import.workers", "8")
	require.NoError(t, err)
	_, err = execute(t, "config", "set", "library.db_path", "/tmp/library.sqlite")
	require.NoError(t, err)

	assert.Equal(t, 8, configStore.GetInt(configfile.KeyImportWorkers))
	assert.Equal(t, "/tmp/library.sqlite", configStore.GetString(configfile.KeyLibraryDBPath))
}

func TestConfigShowCmd_ListsSettings(t *testing.T) {
	defer setupConfigTest(t)()
	require.NoError(t, configStore.Set(configfile.KeyImportStrategy, "local-first"))

	out, err := execute(t, "config", "show")

	require.NoError(t, err)
	assert.Contains(t, out, "import.strategy")
	assert.Contains(t, out, "local-first")
	assert.Contains(t, out, "(unset)")
}

func TestVersionCmd_PrintsVersion(t *testing.T) {
	out, err := execute(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "refsync version")
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "****", maskKey("abc"))
	assert.Equal(t, "********1234", maskKey("sk-test-1234"))
}
