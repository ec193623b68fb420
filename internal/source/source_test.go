package source

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowResolve(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	from := now.AddDate(0, 0, -3)

	tests := []struct {
		name     string
		window   Window
		wantFrom time.Time
		wantTo   time.Time
		wantErr  bool
	}{
		{"lookback", Lookback(7), now.AddDate(0, 0, -7), now, false},
		{"closed range", Range(from, now.Add(-time.Hour)), from, now.Add(-time.Hour), false},
		{"open-ended range", Window{From: from}, from, now, false},
		{"reversed range", Range(now, from), time.Time{}, time.Time{}, true},
		{"empty", Window{}, time.Time{}, time.Time{}, true},
		{"range and lookback", Window{From: from, LookbackDays: 2}, time.Time{}, time.Time{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotFrom, gotTo, err := tt.window.Resolve(now)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWindow)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFrom, gotFrom)
			assert.Equal(t, tt.wantTo, gotTo)
		})
	}
}

func TestIsAuthError(t *testing.T) {
	err := fmt.Errorf("listing: %w", &AuthError{Provider: ProviderGmail, Message: "token expired"})
	assert.True(t, IsAuthError(err))
	assert.EqualError(t, err, "listing: auth error (gmail): token expired")
	assert.False(t, IsAuthError(fmt.Errorf("plain")))
}
