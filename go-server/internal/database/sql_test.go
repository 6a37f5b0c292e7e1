package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLDriverFor(t *testing.T) {
	testCases := []struct {
		dsn    string
		driver string
	}{
		{"file:linkpulse.db", "sqlite"},
		{":memory:", "sqlite"},
		{"libsql://links-acme.turso.io?authToken=x", "libsql"},
		{"wss://links-acme.turso.io", "libsql"},
		{"http://127.0.0.1:8080", "libsql"},
	}

	for _, tc := range testCases {
		t.Run(tc.dsn, func(t *testing.T) {
			assert.Equal(t, tc.driver, SQLDriverFor(tc.dsn))
		})
	}
}

func TestNewSQLClient_Memory(t *testing.T) {
	db, err := NewSQLClient(context.Background(), ":memory:")
	require.NoError(t, err)
	defer db.Close()

	var one int
	require.NoError(t, db.QueryRow("SELECT 1").Scan(&one))
	assert.Equal(t, 1, one)
}
