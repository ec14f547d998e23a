package files

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewWithoutEndpoint(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "mondayease"}, nil)
	assert.True(t, errors.Is(err, ErrNotConfigured))
}

func TestExportKey(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "orgs/org_1/exports/20260501T083000Z-Sprint.csv", ExportKey("org_1", "Sprint.csv", at))
}

func TestLogoKey(t *testing.T) {
	key := LogoKey("org_1", "image/PNG")
	assert.True(t, strings.HasPrefix(key, "orgs/org_1/logo/logo_"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.NotEqual(t, key, LogoKey("org_1", "image/png"))
}

func TestAllowedLogoType(t *testing.T) {
	assert.True(t, AllowedLogoType("image/jpeg"))
	assert.True(t, AllowedLogoType("image/svg+xml"))
	assert.False(t, AllowedLogoType("application/pdf"))
	assert.False(t, AllowedLogoType(""))
}
