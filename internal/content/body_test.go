package content

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBody(t *testing.T) {
	t.Parallel()

	t.Run("YAML", func(t *testing.T) {
		t.Parallel()
		body, err := LoadBody("x.yml", []byte("commonfields:\n  id: MyIntg\n  version: -1\nname: MyIntg\ntests:\n- No tests\n"))
		require.NoError(t, err)
		assert.Equal(t, "MyIntg", String(body, "commonfields", "id"))
		v, ok := Int(body, "commonfields", "version")
		assert.True(t, ok)
		assert.Equal(t, -1, v)
		assert.Equal(t, []string{"No tests"}, Strings(body, "tests"))
	})

	t.Run("JSON", func(t *testing.T) {
		t.Parallel()
		body, err := LoadBody("x.json", []byte(`{"id": "Foo", "expiration": 3, "hidden": "true"}`))
		require.NoError(t, err)
		assert.Equal(t, "Foo", String(body, "id"))
		assert.Equal(t, "3", String(body, "expiration"))
		assert.True(t, Bool(body, "hidden"))
	})

	t.Run("NotAMapping", func(t *testing.T) {
		t.Parallel()
		_, err := LoadBody("x.yml", []byte("- a\n- b\n"))
		assert.ErrorIs(t, err, ErrNotAMapping)
	})

	t.Run("Malformed", func(t *testing.T) {
		t.Parallel()
		_, err := LoadBody("x.json", []byte(`{`))
		assert.Error(t, err)
	})

	t.Run("UnsupportedExtension", func(t *testing.T) {
		t.Parallel()
		_, err := LoadBody("x.txt", []byte(`a`))
		assert.Error(t, err)
	})
}

func TestAsStrings(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"a"}, AsStrings("a"))
	assert.Nil(t, AsStrings(""))
	assert.Equal(t, []string{"a", "b"}, AsStrings([]any{"a", "", "b"}))
	assert.Nil(t, AsStrings(42))
}
