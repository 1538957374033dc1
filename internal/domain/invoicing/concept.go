package invoicing

// Concept is the service category an invoice line is billed under.
// The set is fixed; free-form categories are not accepted.
type Concept string

const (
	ConceptInternationalFreight Concept = "FLETE_INTERNACIONAL"
	ConceptLocalTransport       Concept = "TRANSPORTE_LOCAL"
	ConceptStorage              Concept = "ALMACENAJE"
	ConceptCustomsProcessing    Concept = "TRAMITE_ADUANAL"
	ConceptInsurance            Concept = "SEGURO"
	ConceptHandling             Concept = "MANEJO"
	ConceptOther                Concept = "OTROS"
)

// IsValid checks if the concept is one of the fixed service categories
func (c Concept) IsValid() bool {
	switch c {
	case ConceptInternationalFreight, ConceptLocalTransport, ConceptStorage,
		ConceptCustomsProcessing, ConceptInsurance, ConceptHandling, ConceptOther:
		return true
	}
	return false
}

// String returns the string representation of Concept
func (c Concept) String() string {
	return string(c)
}

// Display returns a human-readable label for the concept
func (c Concept) Display() string {
	switch c {
	case ConceptInternationalFreight:
		return "Flete Internacional"
	case ConceptLocalTransport:
		return "Transporte Local"
	case ConceptStorage:
		return "Almacenaje"
	case ConceptCustomsProcessing:
		return "Trámite Aduanal"
	case ConceptInsurance:
		return "Seguro"
	case ConceptHandling:
		return "Manejo"
	case ConceptOther:
		return "Otros"
	default:
		return string(c)
	}
}
