package id

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PrefixesAndUniqueness(t *testing.T) {
	a, b := NewAccountID(), NewAccountID()
	assert.True(t, strings.HasPrefix(a, "acct_"), a)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(NewEntryID(), "je_"))
	assert.True(t, strings.HasPrefix(NewBudgetID(), "bdg_"))
	assert.True(t, strings.HasPrefix(NewDocumentID(), "doc_"))
}

func TestParse_RoundTripsGeneratedIDs(t *testing.T) {
	prefix, err := Parse(NewEntryID())
	require.NoError(t, err)
	assert.Equal(t, PrefixEntry, prefix)

	assert.NoError(t, ParseWithPrefix(NewAccountID(), PrefixAccount))
}

func TestParseWithPrefix_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", "empty string"},
		{"short suffix", "acct_missing", "id: parse"},
		{"no prefix separator", "12345", "id: parse"},
		{"wrong kind", NewEntryID(), `expected prefix "acct"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ParseWithPrefix(tt.in, PrefixAccount)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
