package incidence

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"payroll-closing-backend/internal/models"
	"payroll-closing-backend/internal/services/variance"
)

// StableHash identifies a concept-total incidence independently of amounts.
func StableHash(category, concept string) string {
	return digest(string(models.IncidenceSumaTotal), category, concept)
}

// IndividualHash identifies a per-employee incidence of a concept.
func IndividualHash(employee, category, concept string) string {
	return digest(string(models.IncidenceIndividual), employee, category, concept)
}

// HashOf returns the identity of a measurement key for the given detector.
func HashOf(kind models.IncidenceKind, k variance.Key) string {
	if kind == models.IncidenceIndividual {
		return IndividualHash(k.Employee, k.Category, k.Concept)
	}
	return StableHash(k.Category, k.Concept)
}

// keyOf rebuilds the measurement key an incidence was detected under.
func keyOf(inc models.Incidence) variance.Key {
	k := variance.Key{
		Category: lower(inc.ConceptCategory),
		Concept:  lower(inc.ConceptName),
	}
	if inc.Kind == models.IncidenceIndividual {
		k.Employee = inc.EmployeeIdentifier
	}
	return k
}

func digest(parts ...string) string {
	for i := range parts {
		parts[i] = lower(parts[i])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
