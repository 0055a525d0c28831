package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testParams struct {
	Timeout  int               `mapstructure:"timeout"`
	Settings map[string]string `mapstructure:"settings"`
}

func TestDecodeParams(t *testing.T) {
	tests := []struct {
		name    string
		input   map[string]any
		want    testParams
		wantErr bool
	}{
		{name: "nil", input: nil, want: testParams{}},
		{
			name:  "weakly typed scalars",
			input: map[string]any{"timeout": "250", "settings": map[string]any{"threads": 4}},
			want:  testParams{Timeout: 250, Settings: map[string]string{"threads": "4"}},
		},
		{
			name:    "unparsable number",
			input:   map[string]any{"timeout": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got testParams
			err := DecodeParams(tt.input, &got)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
