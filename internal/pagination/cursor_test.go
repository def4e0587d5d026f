package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 123, time.UTC)
	id := "5b0d3c1e-8f2a-4c6b-9d7e-1a2b3c4d5e6f"

	encoded := Encode(ts, id)
	assert.NotContains(t, encoded, "=")

	cursor, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, cursor)
	assert.True(t, ts.Equal(cursor.CreatedAt))
	assert.Equal(t, id, cursor.ID)
}

func TestDecode_Empty(t *testing.T) {
	cursor, err := Decode("")
	assert.NoError(t, err)
	assert.Nil(t, cursor)
}

func TestDecode_Rejects(t *testing.T) {
	for name, in := range map[string]string{
		"not base64":   "not-base64!!!",
		"no separator": base64.RawURLEncoding.EncodeToString([]byte("nopipe")),
		"no id":        base64.RawURLEncoding.EncodeToString([]byte("123|")),
		"bad time":     base64.RawURLEncoding.EncodeToString([]byte("soon|abc")),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode(in)
			assert.ErrorIs(t, err, ErrInvalidCursor)
		})
	}
}

type row struct {
	at time.Time
	id string
}

func rows(n int) []row {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := make([]row, n)
	for i := range out {
		out[i] = row{at: base.Add(-time.Duration(i) * time.Minute), id: string(rune('a' + i))}
	}
	return out
}

func key(r row) (time.Time, string) { return r.at, r.id }

func TestComputePage(t *testing.T) {
	page, next, more := ComputePage(rows(3), 5, key)
	assert.Len(t, page, 3)
	assert.Empty(t, next)
	assert.False(t, more)

	page, next, more = ComputePage(rows(3), 3, key)
	assert.Len(t, page, 3)
	assert.False(t, more, "exactly limit items means no further page")
	assert.Empty(t, next)

	all := rows(4)
	page, next, more = ComputePage(all, 3, key)
	require.True(t, more)
	assert.Len(t, page, 3)

	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "c", c.ID)
	assert.True(t, all[2].at.Equal(c.CreatedAt))
}
