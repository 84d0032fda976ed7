// Copyright 2025 James Ross
package adapter

import (
	"testing"

	"github.com/medkg/ingestcore/internal/payload"
	"github.com/stretchr/testify/require"
)

func TestNewDocumentRequiresRaw(t *testing.T) {
	_, err := NewDocument("nct:NCT01234567", "clinicaltrials", nil)
	require.Error(t, err)
}

func TestNewDocumentRequiresDocID(t *testing.T) {
	_, err := NewDocument("", "clinicaltrials", payload.ClinicalTrialsRecord{NCTID: "NCT01234567"})
	require.Error(t, err)
}

func TestNewDocumentSucceeds(t *testing.T) {
	raw := payload.ClinicalTrialsRecord{NCTID: "NCT01234567", BriefTitle: "A Study", OverallStatus: "RECRUITING"}
	doc, err := NewDocument("nct:NCT01234567", "clinicaltrials", raw)
	require.NoError(t, err)
	require.Equal(t, "nct:NCT01234567", doc.DocID)
	require.Equal(t, "clinicaltrials", doc.Source)
	require.NotNil(t, doc.Metadata)
	require.Equal(t, raw, doc.Raw)
}

func TestContentHashIsDeterministic(t *testing.T) {
	h1 := ContentHash([]byte(`{"a":1}`))
	h2 := ContentHash([]byte(`{"a":1}`))
	h3 := ContentHash([]byte(`{"a":2}`))
	require.Equal(t, h1, h2)
	require.NotEqual(t, h1, h3)
	require.Len(t, h1, 64)
}
