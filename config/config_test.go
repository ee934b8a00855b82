package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicolagi/bitsd/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	pathname := filepath.Join(t.TempDir(), "bitsd.config")
	require.Nil(t, os.WriteFile(pathname, []byte(content), 0600))
	return pathname
}

func TestLoad(t *testing.T) {
	t.Run("unquoted keys, no commas, defaults", func(t *testing.T) {
		pathname := writeConfig(t, `{
	debug: true
	public_endpoint: "http://public.example.com"
	signing: {
		secret: "geheim"
		username: "admin"
		password: "hunter2"
	}
	buildpacks: {
		type: "memory"
	}
}`)
		c, err := config.Load(pathname)
		require.Nil(t, err)
		c.ApplyDefaults()
		require.Nil(t, c.Validate())
		assert.True(t, c.Debug)
		assert.Equal(t, config.DefaultAddress, c.Address)
		assert.Equal(t, "http://localhost:9292", c.PrivateEndpoint)
		assert.Equal(t, "public.example.com", c.PublicHost())
		assert.EqualValues(t, config.DefaultMaxBodySize, c.MaxBodySize)
		assert.Equal(t, time.Hour, c.Expiration())
		assert.Equal(t, "memory", c.Buildpacks.Type)
		assert.Equal(t, 0, c.Buildpacks.CacheMaxBlobSize)
	})
	t.Run("cache gets a blob size bound", func(t *testing.T) {
		c, err := config.Load(writeConfig(t, `{buildpacks: {type: "memory", cache_size: 8}}`))
		require.Nil(t, err)
		c.ApplyDefaults()
		assert.Equal(t, 8, c.Buildpacks.CacheSize)
		assert.Equal(t, config.DefaultCacheMaxBlobSize, c.Buildpacks.CacheMaxBlobSize)
	})
	t.Run("explicit cache blob size is kept", func(t *testing.T) {
		c, err := config.Load(writeConfig(t, `{buildpacks: {type: "memory", cache_size: 8, cache_max_blob_size: 1024}}`))
		require.Nil(t, err)
		c.ApplyDefaults()
		assert.Equal(t, 1024, c.Buildpacks.CacheMaxBlobSize)
	})
	t.Run("missing file", func(t *testing.T) {
		_, err := config.Load(filepath.Join(t.TempDir(), "nope"))
		assert.True(t, os.IsNotExist(err))
	})
	t.Run("malformed file", func(t *testing.T) {
		_, err := config.Load(writeConfig(t, "{address:"))
		assert.NotNil(t, err)
	})
}

func TestValidate(t *testing.T) {
	valid := func() *config.Config {
		var c config.Config
		c.Signing.Secret = "geheim"
		c.Signing.Username = "admin"
		c.Signing.Password = "hunter2"
		c.Buildpacks.Type = "memory"
		c.ApplyDefaults()
		return &c
	}
	t.Run("valid", func(t *testing.T) {
		assert.Nil(t, valid().Validate())
	})
	t.Run("all violations are reported", func(t *testing.T) {
		c := valid()
		c.Signing.Secret = ""
		c.Buildpacks.Type = "floppy"
		err := c.Validate()
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "Secret")
		assert.Contains(t, err.Error(), "Type")
	})
	t.Run("s3 requires a bucket", func(t *testing.T) {
		c := valid()
		c.Buildpacks.Type = "s3"
		c.Buildpacks.Region = "eu-west-2"
		err := c.Validate()
		require.NotNil(t, err)
		assert.Contains(t, err.Error(), "Bucket")
	})
	t.Run("bad address", func(t *testing.T) {
		c := valid()
		c.Address = "not an address"
		assert.NotNil(t, c.Validate())
	})
}

func TestContext(t *testing.T) {
	assert.Nil(t, config.FromContext(context.Background()))
	c := &config.Config{Address: "localhost:1"}
	assert.Same(t, c, config.FromContext(config.NewContext(context.Background(), c)))
}
