package coupons

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "codes.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newFileSource(path string, ttl time.Duration) *csvSheetSource {
	return &csvSheetSource{source: path, ttl: ttl}
}

func TestLookupParsesHeaders(t *testing.T) {
	path := writeCSV(t, "code,credits,max_uses,expires_at,status,source\n"+
		"abc-123,5,1,2030-01-01,ACTIVE,campaign\n"+
		"def-456,3,,,,\n")
	src := newFileSource(path, time.Minute)

	item, ok, err := src.Lookup("abc-123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ABC-123", item.Code)
	assert.Equal(t, 5, item.Credits)
	assert.Equal(t, 1, item.MaxUses)
	assert.Equal(t, "campaign", item.Source)

	// Codes are normalized on lookup and in the map.
	item, ok, err = src.Lookup("  DEF-456 ")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, item.Credits)
	assert.Equal(t, "ACTIVE", item.Status)

	_, ok, err = src.Lookup("missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLookupChineseHeaderAliases(t *testing.T) {
	path := writeCSV(t, "邀请码,额度,最大使用次数,状态\nVIP-1,10,1,ACTIVE\n")
	src := newFileSource(path, time.Minute)

	item, ok, err := src.Lookup("vip-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 10, item.Credits)
}

func TestLookupToleratesBOM(t *testing.T) {
	path := writeCSV(t, "\ufeffcode,credits\nBOM-1,2\n")
	src := newFileSource(path, time.Minute)

	_, ok, err := src.Lookup("BOM-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidRowsAreSkipped(t *testing.T) {
	path := writeCSV(t, "code,credits\nGOOD-1,3\n,5\nNO-CREDITS,\nNEG-1,-2\nZERO-1,0\n")
	src := newFileSource(path, time.Minute)

	_, ok, err := src.Lookup("GOOD-1")
	require.NoError(t, err)
	assert.True(t, ok)
	for _, code := range []string{"NO-CREDITS", "NEG-1", "ZERO-1"} {
		_, ok, err := src.Lookup(code)
		require.NoError(t, err)
		assert.False(t, ok, code)
	}
}

func TestCacheHonorsTTL(t *testing.T) {
	path := writeCSV(t, "code,credits\nFIRST-1,1\n")
	src := newFileSource(path, time.Hour)

	_, ok, err := src.Lookup("FIRST-1")
	require.NoError(t, err)
	require.True(t, ok)

	// Rewrite the file; within TTL the cached map still answers.
	require.NoError(t, os.WriteFile(path, []byte("code,credits\nSECOND-1,1\n"), 0o644))
	_, ok, err = src.Lookup("SECOND-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Force expiry: the next lookup reloads atomically.
	src.mu.Lock()
	src.expiresAt = time.Now().Add(-time.Second)
	src.mu.Unlock()
	_, ok, err = src.Lookup("SECOND-1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNewSheetSourceUnconfigured(t *testing.T) {
	t.Setenv("COUPON_CODE_SHEET_CSV_URL", "")
	t.Setenv("COUPON_CODE_SHEET_LOCAL_CSV", "")
	assert.Nil(t, NewSheetSource())
}
