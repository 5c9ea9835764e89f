package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDemographics() Demographics {
	return Demographics{Name: "Ada", Age: 34, Location: "Lisbon", Occupation: "Nurse"}
}

func TestNewPersona(t *testing.T) {
	t.Parallel()

	owner := uuid.New()

	t.Run("creates generating persona", func(t *testing.T) {
		p, err := NewPersona(owner, validDemographics(), Psychographics{Interests: []string{"cycling"}})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, p.ID)
		assert.Equal(t, PersonaStatusGenerating, p.Status)
		assert.False(t, p.GenerationInProgress)
		assert.NotEmpty(t, p.Fingerprint)
	})

	t.Run("rejects missing owner", func(t *testing.T) {
		_, err := NewPersona(uuid.Nil, validDemographics(), Psychographics{})
		assert.ErrorIs(t, err, ErrEmptyPersonaOwnerID)
	})

	t.Run("rejects implausible age", func(t *testing.T) {
		d := validDemographics()
		d.Age = 7
		_, err := NewPersona(owner, d, Psychographics{})
		assert.ErrorIs(t, err, ErrInvalidPersonaAge)
	})

	t.Run("fixed id is kept", func(t *testing.T) {
		id := uuid.New()
		p, err := NewPersonaWithID(id, owner, validDemographics(), Psychographics{})
		require.NoError(t, err)
		assert.Equal(t, id, p.ID)
	})
}

func TestPersonaValidateActiveRequiresDetails(t *testing.T) {
	t.Parallel()

	p, err := NewPersona(uuid.New(), validDemographics(), Psychographics{})
	require.NoError(t, err)

	p.Status = PersonaStatusActive
	assert.ErrorIs(t, p.Validate(), ErrMissingBio)

	p.Bio = "Works night shifts."
	assert.ErrorIs(t, p.Validate(), ErrMissingEvalStyle)

	p.EvaluationStyle = "Compares prices carefully."
	assert.NoError(t, p.Validate())

	p.Status = "ARCHIVED"
	assert.ErrorIs(t, p.Validate(), ErrInvalidStatus)
}

func TestFingerprintIsCanonical(t *testing.T) {
	t.Parallel()

	a, err := Fingerprint(
		Demographics{Name: "  Ada ", Age: 34, Location: "LISBON"},
		Psychographics{Interests: []string{"Cycling", "books", "cycling"}},
	)
	require.NoError(t, err)

	b, err := Fingerprint(
		Demographics{Name: "ada", Age: 34, Location: "lisbon"},
		Psychographics{Interests: []string{"books", "cycling"}},
	)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := Fingerprint(
		Demographics{Name: "ada", Age: 35, Location: "lisbon"},
		Psychographics{Interests: []string{"books", "cycling"}},
	)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
