package mysql

import (
	"testing"

	drv "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeDSN(t *testing.T) {
	out, err := NormalizeDSN("realm:pw@tcp(db:3306)/realmcore")
	require.NoError(t, err)
	cfg, err := drv.ParseDSN(out)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "UTC", cfg.Loc.String())
	assert.Equal(t, "realmcore", cfg.DBName)
	assert.Equal(t, "db:3306", cfg.Addr)
}

func TestNormalizeDSN_OverridesParseTime(t *testing.T) {
	out, err := NormalizeDSN("realm:pw@tcp(db:3306)/realmcore?parseTime=false&loc=Local&timeout=5s")
	require.NoError(t, err)
	cfg, err := drv.ParseDSN(out)
	require.NoError(t, err)
	assert.True(t, cfg.ParseTime)
	assert.Equal(t, "UTC", cfg.Loc.String())
	assert.Equal(t, "5s", cfg.Timeout.String())
}

func TestNormalizeDSN_Invalid(t *testing.T) {
	_, err := NormalizeDSN("realm:pw@tcp(db:3306)realmcore")
	assert.Error(t, err)
}
