package lab

import "strings"

// PatientRef is the loosely populated patient reference a screen holds. Any
// field may be empty.
type PatientRef struct {
	TimelineID int    `json:"timelineID" query:"timelineID" form:"timelineID"`
	PatientID  string `json:"patientID" query:"patientID" form:"patientID" validate:"required_without_all=PID WalkInID TimelineID"`
	PID        string `json:"pID" query:"pID" form:"pID"`
	WalkInID   int    `json:"walkInID" query:"walkInID" form:"walkInID"`
	LoincCode  string `json:"loincCode" query:"loincCode" form:"loincCode"`
}

// VariantKind tags which backend family a patient belongs to.
type VariantKind int

const (
	VariantRegistered VariantKind = iota
	VariantWalkIn
)

func (k VariantKind) String() string {
	if k == VariantWalkIn {
		return "walkin"
	}
	return "registered"
}

func (k VariantKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Variant is the resolved patient variant. Registered variants use PatientID
// and TimelineID; walk-in variants use WalkInID and LoincCode. TimelineID is
// carried for both when known because the list endpoints are timeline scoped.
type Variant struct {
	Kind       VariantKind `json:"kind"`
	PatientID  string      `json:"patient_id,omitempty"`
	TimelineID int         `json:"timeline_id,omitempty"`
	WalkInID   int         `json:"walk_in_id,omitempty"`
	LoincCode  string      `json:"loinc_code,omitempty"`
}

// IsWalkIn reports whether v is the walk-in variant.
func (v Variant) IsWalkIn() bool { return v.Kind == VariantWalkIn }

// Classify resolves a reference to exactly one variant. Precedence:
//  1. a patientID makes the reference Registered;
//  2. otherwise a walkInID or pID makes it WalkIn;
//  3. otherwise it is Registered with whatever identifiers exist.
//
// Classify is pure: the same ref always yields the same Variant.
func Classify(ref PatientRef) Variant {
	patientID := strings.TrimSpace(ref.PatientID)
	pid := strings.TrimSpace(ref.PID)

	if patientID == "" && (ref.WalkInID != 0 || pid != "") {
		walkInID := ref.WalkInID
		if walkInID == 0 {
			walkInID, _ = decimalInt(pid)
		}
		return Variant{
			Kind:       VariantWalkIn,
			TimelineID: ref.TimelineID,
			WalkInID:   walkInID,
			LoincCode:  strings.TrimSpace(ref.LoincCode),
		}
	}

	return Variant{
		Kind:       VariantRegistered,
		PatientID:  patientID,
		TimelineID: ref.TimelineID,
	}
}
