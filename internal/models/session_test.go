package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_SessionExpired(t *testing.T) {
	t.Parallel()

	now := time.Now()

	tests := []struct {
		name      string
		expiresAt time.Time
		want      bool
	}{
		{
			name:      "live session",
			expiresAt: now.Add(time.Hour),
			want:      false,
		},
		{
			name:      "lifetime passed",
			expiresAt: now.Add(-time.Hour),
			want:      true,
		},
		{
			name:      "expires exactly now",
			expiresAt: now,
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{ExpiresAt: tt.expiresAt}

			require.Equal(t, tt.want, s.Expired(now))
		})
	}
}
