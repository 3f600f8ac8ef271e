// internal/nodeid/parser_test.go
package nodeid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := []struct {
		name      string
		rawID     string
		expectErr bool
	}{
		{name: "root", rawID: "0"},
		{name: "nested", rawID: "0:3:15"},
		{name: "error - empty string", rawID: "", expectErr: true},
		{name: "error - empty segment", rawID: "0::1", expectErr: true},
		{name: "error - trailing separator", rawID: "0:1:", expectErr: true},
		{name: "error - leading zero", rawID: "0:01", expectErr: true},
		{name: "error - negative", rawID: "0:-1", expectErr: true},
		{name: "error - letters", rawID: "a:1", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			id, err := Parse(tc.rawID)
			if tc.expectErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.rawID, id.String())
		})
	}
}

func TestID_TextRoundTrip(t *testing.T) {
	for _, raw := range []string{"0", "0:1", "2:0:9"} {
		t.Run(raw, func(t *testing.T) {
			id := MustParse(raw)
			b, err := id.MarshalText()
			require.NoError(t, err)

			var back ID
			require.NoError(t, back.UnmarshalText(b))
			assert.Equal(t, id, back)
		})
	}
}
