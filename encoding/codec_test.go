package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForFormat(t *testing.T) {
	c, err := ForFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, c.Name())

	c, err = ForFormat(FormatMsgpack)
	require.NoError(t, err)
	assert.Equal(t, "application/msgpack", c.ContentType())

	_, err = ForFormat("protobuf")
	assert.Error(t, err)
}

func TestForContentType(t *testing.T) {
	assert.Equal(t, FormatMsgpack, ForContentType("application/msgpack").Name())
	assert.Equal(t, FormatJSON, ForContentType("application/json").Name())
	assert.Equal(t, FormatJSON, ForContentType("").Name())
}

func TestCodecs_DecodeWhatTheyEncode(t *testing.T) {
	in := frame{Type: "notification", Target: "user-notifications", Profiles: []string{"TODOS", "SUPERVISOR"}}

	for _, format := range []string{FormatJSON, FormatMsgpack} {
		t.Run(format, func(t *testing.T) {
			c, err := ForFormat(format)
			require.NoError(t, err)

			data, err := c.Marshal(in)
			require.NoError(t, err)

			var out frame
			require.NoError(t, c.Unmarshal(data, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestJSONCodec_WireShape(t *testing.T) {
	c, err := ForFormat(FormatJSON)
	require.NoError(t, err)

	data, err := c.Marshal(frame{Type: "refresh", Target: "monitor-diario"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"refresh","target":"monitor-diario"}`, string(data))
}
