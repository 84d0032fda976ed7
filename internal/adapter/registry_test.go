// Copyright 2025 James Ross
package adapter

import (
	"testing"

	"github.com/medkg/ingestcore/internal/payload"
	"github.com/stretchr/testify/require"
)

func TestRegistryBuildUnknownNameIsUnknownAdapter(t *testing.T) {
	r := NewRegistry()
	_, err := r.Build("nope", Dependencies{})
	var unknown *UnknownAdapter
	require.ErrorAs(t, err, &unknown)
}

func TestRegistryBuildMissingDependency(t *testing.T) {
	r := NewRegistry()
	r.Register("clinicaltrials", func(deps Dependencies) (AdapterRuntime, error) {
		return Wrap[payload.ClinicalTrialsRecord](&fakeAdapter{}), nil
	})

	_, err := r.Build("clinicaltrials", Dependencies{})
	var missing *MissingDependency
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "HTTP", missing.Field)
}

func TestRegistryNamesListsRegistered(t *testing.T) {
	r := NewRegistry()
	r.Register("clinicaltrials", func(deps Dependencies) (AdapterRuntime, error) { return nil, nil })
	require.Contains(t, r.Names(), "clinicaltrials")
}
