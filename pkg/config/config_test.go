package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"PORT", "DB_PATH", "LOG_LEVEL", "LOG_FORMAT", "REPORT_TOP_N", "REPORT_WORKERS", "SHUTDOWN_TIMEOUT"} {
		t.Setenv(k, "")
	}

	c := Load()

	assert.Equal(t, "8080", c.Port)
	assert.Equal(t, "loanbook.db", c.DBPath)
	assert.Equal(t, 5, c.ReportTopN)
	assert.Equal(t, 0, c.ReportWorkers)
	assert.Equal(t, 10*time.Second, c.ShutdownTimeout)
	assert.Equal(t, ":8080", c.Addr())
	require.NoError(t, c.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("REPORT_TOP_N", "10")
	t.Setenv("REPORT_WORKERS", "4")
	t.Setenv("LOG_FORMAT", "json")
	t.Setenv("SHUTDOWN_TIMEOUT", "3s")

	c := Load()

	assert.Equal(t, "9090", c.Port)
	assert.Equal(t, 10, c.ReportTopN)
	assert.Equal(t, 4, c.ReportWorkers)
	assert.Equal(t, "json", c.LogFormat)
	assert.Equal(t, 3*time.Second, c.ShutdownTimeout)
}

func TestLoad_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("REPORT_TOP_N", "many")
	t.Setenv("SHUTDOWN_TIMEOUT", "soon")

	c := Load()

	assert.Equal(t, 5, c.ReportTopN)
	assert.Equal(t, 10*time.Second, c.ShutdownTimeout)
}

func TestValidate(t *testing.T) {
	base := Config{Port: "8080", DBPath: "x.db", LogFormat: "text", ReportTopN: 5}
	require.NoError(t, base.Validate())

	bad := base
	bad.DBPath = ""
	assert.Error(t, bad.Validate())

	bad = base
	bad.ReportTopN = 0
	assert.Error(t, bad.Validate())

	bad = base
	bad.LogFormat = "xml"
	assert.Error(t, bad.Validate())

	bad = base
	bad.Port = "not-a-port"
	assert.Error(t, bad.Validate())
}
