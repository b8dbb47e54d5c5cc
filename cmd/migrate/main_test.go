package main

import (
	"testing"

	"encrypted_like/internal/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseURL(t *testing.T) {
	cases := []struct {
		name    string
		driver  string
		dsn     string
		wantErr bool
	}{
		{"sqlite is rejected", "sqlite", "file:devnet?mode=memory", true},
		{"keyword dsn is rejected", "postgres", "host=localhost user=el dbname=devnet", true},
		{"postgres url", "postgres", "postgres://el:el@localhost:5432/devnet?sslmode=disable", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &config.Config{Devnet: config.DevnetConfig{Driver: tc.driver, DSN: tc.dsn}}
			got, err := databaseURL(cfg)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.dsn, got)
		})
	}
}
