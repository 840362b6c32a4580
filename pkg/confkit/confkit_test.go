package confkit

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	t.Setenv("FEED_DIR", "feeds")
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	tests := []struct {
		name string
		file string
		want string
	}{
		{name: "absolute", file: "/srv/market.yaml", want: "/srv/market.yaml"},
		{name: "relative", file: "market.yaml", want: "/etc/equityfeed/market.yaml"},
		{name: "env var", file: "${FEED_DIR}/market.yaml", want: "/etc/equityfeed/feeds/market.yaml"},
		{name: "home", file: "~/market.yaml", want: filepath.Join(home, "market.yaml")},
		{name: "empty", file: "  ", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePath("/etc/equityfeed", tt.file))
		})
	}
}

type marketSection struct {
	Routes int
}

func TestSectionHydrate(t *testing.T) {
	t.Run("empty file", func(t *testing.T) {
		var s Section[marketSection]
		err := s.Hydrate("/base", func(string) (*marketSection, error) {
			t.Fatal("loader must not run without a file")
			return nil, nil
		})
		require.NoError(t, err)
		assert.False(t, s.Loaded())
	})

	t.Run("loads relative to base", func(t *testing.T) {
		s := Section[marketSection]{File: "market.yaml"}
		err := s.Hydrate("/base", func(p string) (*marketSection, error) {
			assert.Equal(t, "/base/market.yaml", p)
			return &marketSection{Routes: 5}, nil
		})
		require.NoError(t, err)
		assert.True(t, s.Loaded())
		assert.Equal(t, 5, s.Value.Routes)
		assert.Equal(t, "/base/market.yaml", s.File)
	})

	t.Run("loader error", func(t *testing.T) {
		boom := errors.New("boom")
		s := Section[marketSection]{File: "market.yaml"}
		err := s.Hydrate("/base", func(string) (*marketSection, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		assert.False(t, s.Loaded())
		assert.Equal(t, "market.yaml", s.File)
	})
}

func TestProjectRoot(t *testing.T) {
	root, err := ProjectRoot()
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "go.mod"))

	p, err := ProjectPath("etc/market.yaml")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "etc", "market.yaml"), p)
}

func TestExplicitEnvFiles(t *testing.T) {
	assert.Nil(t, explicitEnvFiles(" "))
	assert.Equal(t, []string{"a.env", "b.env"}, explicitEnvFiles("a.env, ,b.env"))
}

func TestLoadDotenvFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("EQUITYFEED_DOTENV_CHECK=loaded\n"), 0o600))

	t.Setenv("ENV_FILE", envFile)
	t.Setenv("NO_DOTENV", "")
	t.Setenv("EQUITYFEED_DOTENV_CHECK", "")
	require.NoError(t, os.Unsetenv("EQUITYFEED_DOTENV_CHECK"))

	loadDotenv()
	assert.Equal(t, "loaded", os.Getenv("EQUITYFEED_DOTENV_CHECK"))
}

func TestLoadDotenvKeepsExistingValues(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("EQUITYFEED_DOTENV_CHECK=from-file\n"), 0o600))

	t.Setenv("ENV_FILE", envFile)
	t.Setenv("EQUITYFEED_DOTENV_CHECK", "from-shell")
	loadDotenv()
	assert.Equal(t, "from-shell", os.Getenv("EQUITYFEED_DOTENV_CHECK"))

	t.Setenv("DOTENV_OVERLOAD", "1")
	loadDotenv()
	assert.Equal(t, "from-file", os.Getenv("EQUITYFEED_DOTENV_CHECK"))
}
