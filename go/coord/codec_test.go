package coord

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONCodecRoundTripsBarrierRequest(t *testing.T) {
	c := jsonCodec{}
	req := BarrierRequest{NodeID: 3, Tag: "1-0-forward"}

	data, err := c.Marshal(req)
	require.NoError(t, err)

	var out BarrierRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, req, out)
}

func TestJSONCodecNameMatchesRegisteredCodec(t *testing.T) {
	assert.Equal(t, "dorylus-json", jsonCodec{}.Name())
	assert.Equal(t, jsonCodec{}.Name(), Codec().Name())
}

func TestJSONCodecUnmarshalErrorWrapsSource(t *testing.T) {
	c := jsonCodec{}
	var out BarrierRequest
	err := c.Unmarshal([]byte("not json"), &out)
	assert.Error(t, err)
}
