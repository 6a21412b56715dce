package dates

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("iso timestamp", func(t *testing.T) {
		d, err := Parse("1990-04-17 00:00:00")
		require.NoError(t, err)
		assert.Equal(t, "1990-04-17", ISO(d))
	})

	t.Run("bare iso date", func(t *testing.T) {
		d, err := Parse("1990-04-17")
		require.NoError(t, err)
		assert.Equal(t, "1990-04-17", ISO(d))
	})

	t.Run("us date", func(t *testing.T) {
		d, err := Parse("04/17/1990")
		require.NoError(t, err)
		assert.Equal(t, "1990-04-17", ISO(d))
	})

	t.Run("us date without padding", func(t *testing.T) {
		d, err := Parse("4/7/1990")
		require.NoError(t, err)
		assert.Equal(t, "1990-04-07", ISO(d))
	})

	t.Run("epoch millis", func(t *testing.T) {
		ms := time.Date(2023, 6, 1, 15, 30, 0, 0, time.UTC).UnixMilli()
		d, err := Parse(strconv.FormatInt(ms, 10))
		require.NoError(t, err)
		assert.Equal(t, "2023-06-01", ISO(d))
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := Parse("not a date")
		assert.Error(t, err)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := Parse("")
		assert.Error(t, err)
	})
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("1990-04-17 00:00:00", "04/17/1990"))
	assert.True(t, Equal("1990-04-17", "1990-04-17 13:45:00"))
	assert.False(t, Equal("1990-04-17", "1990-04-18"))
	assert.False(t, Equal("garbage", "1990-04-17"))
}
