package compositor_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docsign/pkg/compositor"
	"docsign/pkg/compositor/compositortest"
)

func TestDecodeDataURI(t *testing.T) {
	raw := compositortest.PNG(4, 4, false)
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name  string
		input string
	}{
		{name: "data uri", input: compositortest.DataURI(raw)},
		{name: "bare base64", input: encoded},
		{name: "unpadded", input: base64.RawStdEncoding.EncodeToString(raw)},
		{name: "wrapped lines", input: encoded[:10] + "\n" + encoded[10:]},
		{name: "uppercase media type", input: "data:IMAGE/PNG;BASE64," + encoded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := compositor.DecodeDataURI(tt.input)
			require.NoError(t, err)
			assert.Equal(t, raw, got)
		})
	}
}

func TestDecodeDataURIRejects(t *testing.T) {
	for _, input := range []string{
		"",
		"   ",
		"data:image/png;base64",
		"data:image/png," + "abc",
		"data:image/jpeg;base64,AAAA",
		"!!!not base64!!!",
	} {
		_, err := compositor.DecodeDataURI(input)
		assert.ErrorIs(t, err, compositor.ErrInvalidImage, "input %q", input)
	}
}
