package lab

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		ref  PatientRef
		want Variant
	}{
		{
			name: "patient id wins",
			ref:  PatientRef{PatientID: "P1", WalkInID: 55, TimelineID: 9},
			want: Variant{Kind: VariantRegistered, PatientID: "P1", TimelineID: 9},
		},
		{
			name: "walk-in id",
			ref:  PatientRef{WalkInID: 55, LoincCode: "LP123"},
			want: Variant{Kind: VariantWalkIn, WalkInID: 55, LoincCode: "LP123"},
		},
		{
			name: "pID stands in for walk-in id",
			ref:  PatientRef{PID: "77", LoincCode: "718-7", TimelineID: 3},
			want: Variant{Kind: VariantWalkIn, WalkInID: 77, LoincCode: "718-7", TimelineID: 3},
		},
		{
			name: "zero-padded pID is decimal",
			ref:  PatientRef{PID: "0055"},
			want: Variant{Kind: VariantWalkIn, WalkInID: 55},
		},
		{
			name: "pID with digits past octal range",
			ref:  PatientRef{PID: " 089 "},
			want: Variant{Kind: VariantWalkIn, WalkInID: 89},
		},
		{
			name: "blank patient id is absent",
			ref:  PatientRef{PatientID: "  ", WalkInID: 5},
			want: Variant{Kind: VariantWalkIn, WalkInID: 5},
		},
		{
			name: "timeline only is registered",
			ref:  PatientRef{TimelineID: 12},
			want: Variant{Kind: VariantRegistered, TimelineID: 12},
		},
		{
			name: "empty ref",
			ref:  PatientRef{},
			want: Variant{Kind: VariantRegistered},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.ref)
			if got != tt.want {
				t.Errorf("Classify(%+v) = %+v, want %+v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestClassify_Deterministic(t *testing.T) {
	refs := []PatientRef{
		{PatientID: "P1"},
		{WalkInID: 55, LoincCode: "LP123"},
		{PID: "abc"},
		{},
	}
	for _, ref := range refs {
		first := Classify(ref)
		for i := 0; i < 10; i++ {
			if got := Classify(ref); got != first {
				t.Fatalf("Classify(%+v) changed from %+v to %+v", ref, first, got)
			}
		}
	}
}

func TestVariantKind_MarshalText(t *testing.T) {
	b, _ := VariantWalkIn.MarshalText()
	if string(b) != "walkin" {
		t.Errorf("expected walkin, got %s", b)
	}
	if VariantRegistered.String() != "registered" {
		t.Errorf("expected registered, got %s", VariantRegistered)
	}
}
