package metadata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fernerrors "github.com/Ramsey-B/fern/pkg/errors"
	"github.com/Ramsey-B/fern/pkg/models"
)

func manifest() map[string]string {
	return map[string]string{
		"SnapshotDate":     "03-10-2026",
		"ExtractTimestamp": "04-10-2026 07:30:12",
		"ExtractType":      "update",
		"ExtractNumber":    "140",
		"Version":          "1.0.0",
	}
}

func TestParse(t *testing.T) {
	m, err := Parse(manifest(), models.ExtractTypeUpdate)
	require.NoError(t, err)

	assert.Equal(t, time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC), m.SnapshotDate)
	assert.Equal(t, time.Date(2026, 10, 4, 7, 30, 12, 0, time.UTC), m.ExtractTimestamp)
	assert.Equal(t, models.ExtractTypeUpdate, m.ExtractType)
	assert.Equal(t, 140, m.ExtractNumber)
	assert.Equal(t, "1.0.0", m.FormatVersion)
	assert.Equal(t, "2026-10-03", m.SnapshotDateString())
}

func TestParse_CaseInsensitiveVariables(t *testing.T) {
	vars := map[string]string{}
	for k, v := range manifest() {
		vars[" "+k+" "] = v
	}
	vars[" ExtractType "] = "UPDATE"

	_, err := Parse(vars, models.ExtractTypeUpdate)
	require.NoError(t, err)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(map[string]string)
		expected models.ExtractType
		field    string
	}{
		{
			name:     "full package fed to update",
			mutate:   func(m map[string]string) { m["ExtractType"] = "full" },
			expected: models.ExtractTypeUpdate,
			field:    VariableExtractType,
		},
		{
			name:   "unknown type",
			mutate: func(m map[string]string) { m["ExtractType"] = "partial" },
			field:  VariableExtractType,
		},
		{
			name:   "sequence not integer",
			mutate: func(m map[string]string) { m["ExtractNumber"] = "14a" },
			field:  VariableExtractNumber,
		},
		{
			name:   "timestamp without time",
			mutate: func(m map[string]string) { m["ExtractTimestamp"] = "04-10-2026" },
			field:  VariableExtractTimestamp,
		},
		{
			name:   "timestamp with bad time",
			mutate: func(m map[string]string) { m["ExtractTimestamp"] = "04-10-2026 7h30" },
			field:  VariableExtractTimestamp,
		},
		{
			name:   "bad snapshot date",
			mutate: func(m map[string]string) { m["SnapshotDate"] = "2026-10-03" },
			field:  VariableSnapshotDate,
		},
		{
			name:   "missing version",
			mutate: func(m map[string]string) { delete(m, "Version") },
			field:  VariableVersion,
		},
		{
			name:   "non positive sequence",
			mutate: func(m map[string]string) { m["ExtractNumber"] = "0" },
			field:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vars := manifest()
			tt.mutate(vars)

			_, err := Parse(vars, tt.expected)
			require.Error(t, err)

			var verr *fernerrors.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}
