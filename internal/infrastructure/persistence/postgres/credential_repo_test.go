package postgres

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyhub/schedule-sync/internal/domain/session"
	"github.com/studyhub/schedule-sync/internal/infrastructure/security"
)

func TestEncodeDecodeJar_Sealed(t *testing.T) {
	sealer, err := security.NewSealer("test-key")
	require.NoError(t, err)

	expires := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	jar := session.CookieJar{}
	jar.Set(session.Cookie{Name: "autologinkeyV2", Value: "token", ExpiresAt: &expires})
	jar.Set(session.Cookie{Name: "ASP.NET_SessionId", Value: "sess"})

	now := time.Date(2025, 10, 20, 8, 0, 0, 0, time.UTC)
	data, err := encodeJar(sealer, "stu-1", jar, now)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "token")

	var raw map[string]cookieRecord
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.True(t, strings.HasPrefix(raw["autologinkeyV2"].Value, "v1:"))
	assert.Equal(t, now, raw["ASP.NET_SessionId"].UpdatedAt, "missing timestamps default to now")

	decoded, err := decodeJar(sealer, "stu-1", data)
	require.NoError(t, err)
	v, _ := decoded.Value("autologinkeyV2")
	assert.Equal(t, "token", v)
	assert.Equal(t, expires, *decoded["autologinkeyV2"].ExpiresAt)
	assert.Equal(t, []string{"ASP.NET_SessionId", "autologinkeyV2"}, decoded.Names())

	_, err = decodeJar(sealer, "stu-2", data)
	assert.ErrorIs(t, err, security.ErrUnseal)
}

func TestEncodeDecodeJar_Clear(t *testing.T) {
	sealer, err := security.NewSealer("")
	require.NoError(t, err)

	data, err := encodeJar(sealer, "stu-1", session.NewCookieJar(map[string]string{"a": "1"}), time.Now())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"value":"1"`)

	jar, err := decodeJar(sealer, "stu-1", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, 0, jar.Len())

	jar, err = decodeJar(sealer, "stu-1", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, jar.Len())
}

func TestGetMigrations_Ordered(t *testing.T) {
	migrations := GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version)
		assert.NotEmpty(t, m.UpSQL)
		assert.NotEmpty(t, m.DownSQL)
	}
}
