package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlobFilter_Match(t *testing.T) {
	tests := []struct {
		name      string
		targets   []string
		types     []string
		eventType string
		target    string
		want      bool
	}{
		{"empty matches all", nil, nil, "refresh", "monitor-diario", true},
		{"exact target", []string{"monitor-diario"}, nil, "refresh", "monitor-diario", true},
		{"target mismatch", []string{"monitor-diario"}, nil, "refresh", "monitor-semanal", false},
		{"wildcard target", []string{"monitor-*"}, nil, "refresh", "monitor-semanal", true},
		{"alternatives", []string{"{monitor-diario,user-notifications}"}, nil, "notification", "user-notifications", true},
		{"type filter", nil, []string{"refresh"}, "notification", "user-notifications", false},
		{"type and target", []string{"monitor-*"}, []string{"refresh"}, "refresh", "monitor-diario", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewGlobFilter(tt.targets, tt.types)
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(tt.eventType, tt.target))
		})
	}
}

func TestGlobFilter_InvalidPattern(t *testing.T) {
	_, err := NewGlobFilter([]string{"monitor["}, nil)
	assert.Error(t, err)

	_, err = NewGlobFilter(nil, []string{"monitor["})
	assert.Error(t, err)
}

func TestGlobFilter_NilAcceptsEverything(t *testing.T) {
	var f *GlobFilter
	assert.True(t, f.Accepts(Refresh("anything")))
	assert.Nil(t, f.Patterns())
}
