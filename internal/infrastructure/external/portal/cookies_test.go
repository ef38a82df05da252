package portal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSetCookie(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   []string
	}{
		{
			name:   "single cookie",
			header: "autologinkeyV2=abc; path=/; HttpOnly",
			want:   []string{"autologinkeyV2=abc; path=/; HttpOnly"},
		},
		{
			name:   "commas inside expires dates",
			header: "a=1; expires=Mon, 20-Oct-2025 08:00:00 GMT; path=/, b=2; Expires=Tue, 21 Oct 2025 10:00:00 GMT,c=3",
			want: []string{
				"a=1; expires=Mon, 20-Oct-2025 08:00:00 GMT; path=/",
				"b=2; Expires=Tue, 21 Oct 2025 10:00:00 GMT",
				"c=3",
			},
		},
		{
			name:   "extra spaces after comma",
			header: "ASP.NET_SessionId=xyz; path=/,   lectiogsc=g1; Max-Age=60",
			want:   []string{"ASP.NET_SessionId=xyz; path=/", "lectiogsc=g1; Max-Age=60"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitSetCookie(tt.header))
		})
	}
}

func TestParseSetCookies_RecoversEveryDefinition(t *testing.T) {
	now := time.Date(2025, time.October, 20, 7, 0, 0, 0, time.UTC)

	for n := 1; n <= 6; n++ {
		header := ""
		for i := 0; i < n; i++ {
			if i > 0 {
				header += ", "
			}
			header += "c" + string(rune('a'+i)) + "=v" + string(rune('a'+i)) +
				"; expires=Wed, 22-Oct-2025 09:30:00 GMT; path=/"
		}

		cookies := ParseSetCookies([]string{header}, now)
		require.Len(t, cookies, n, header)
		for i, c := range cookies {
			assert.Equal(t, "c"+string(rune('a'+i)), c.Name)
			assert.Equal(t, "v"+string(rune('a'+i)), c.Value)
			require.NotNil(t, c.ExpiresAt)
		}
	}
}

func TestParseSetCookies_Expiry(t *testing.T) {
	now := time.Date(2025, time.October, 20, 7, 0, 0, 0, time.UTC)

	cookies := ParseSetCookies([]string{
		"exp=1; Expires=Wed, 22 Oct 2025 09:30:00 GMT; Max-Age=10",
		"age=2; Max-Age=3600",
		"none=3; path=/",
		"gone=4; Max-Age=0",
	}, now)
	require.Len(t, cookies, 4)

	byName := map[string]*time.Time{}
	for _, c := range cookies {
		byName[c.Name] = c.ExpiresAt
	}

	require.NotNil(t, byName["exp"])
	assert.Equal(t, time.Date(2025, time.October, 22, 9, 30, 0, 0, time.UTC), *byName["exp"], "expires wins over max-age")

	require.NotNil(t, byName["age"])
	assert.Equal(t, now.Add(time.Hour), *byName["age"])

	assert.Nil(t, byName["none"])

	require.NotNil(t, byName["gone"])
	assert.True(t, !byName["gone"].After(now))
}

func TestParseSetCookies_DropsEmptyValues(t *testing.T) {
	cookies := ParseSetCookies([]string{"deleted=; expires=Thu, 01 Jan 1970 00:00:00 GMT", "kept=1"}, time.Now())
	require.Len(t, cookies, 1)
	assert.Equal(t, "kept", cookies[0].Name)
}
