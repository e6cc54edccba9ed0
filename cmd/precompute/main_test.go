package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	req, err := parseRequest("2025-08-01", "2025-08-31", "2025-09-30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), req.From)
	assert.Equal(t, time.Date(2025, 8, 31, 0, 0, 0, 0, time.UTC), req.To)
	assert.Equal(t, time.Date(2025, 9, 30, 23, 59, 59, 0, time.UTC), req.AsOf)

	req, err = parseRequest("2025-08-01", "2025-08-01", "")
	require.NoError(t, err)
	assert.False(t, req.AsOf.IsZero())

	_, err = parseRequest("", "2025-08-01", "")
	assert.Error(t, err)
	_, err = parseRequest("2025-08-01", "2025-08-01", "later")
	assert.Error(t, err)
}
