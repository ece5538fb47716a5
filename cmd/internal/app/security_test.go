package app

import (
	"strings"
	"testing"

	"healplus/cmd/security/token"

	"github.com/stretchr/testify/require"
)

func TestLoadFingerprinter(t *testing.T) {
	strongKey := strings.Repeat("k", token.MinHMACKeyBytes)

	cases := []struct {
		name      string
		key       string
		require   bool
		wantErr   string
		wantKeyed bool
	}{
		{name: "optional absent", key: "", require: false},
		{name: "optional present", key: strongKey, require: false, wantKeyed: true},
		{name: "optional short", key: "short", require: false, wantErr: "too short"},
		{name: "required absent", key: "", require: true, wantErr: "is missing"},
		{name: "required short", key: "short", require: true, wantErr: "too short"},
		{name: "required present", key: strongKey, require: true, wantKeyed: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(token.HMACEnvKey, tc.key)

			fp, err := LoadFingerprinter(Config{RequireTokenHMAC: tc.require})
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantKeyed, fp.Keyed())
		})
	}
}
