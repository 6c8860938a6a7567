package lab

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
)

var (
	ErrMissingPatientID = errors.New("lab: no patient id could be resolved for a registered patient")
	ErrMissingWalkInID  = errors.New("lab: walk-in id is required for a walk-in patient")
	ErrMissingTestID    = errors.New("lab: test id is required")
	ErrMissingLoincCode = errors.New("lab: loinc code is required for a walk-in test")
)

// listSubject is the path parameter the list endpoints are scoped by. Walk-in
// patients without a timeline fall back to their walk-in id.
func listSubject(v Variant) int {
	if v.TimelineID == 0 && v.IsWalkIn() {
		return v.WalkInID
	}
	return v.TimelineID
}

// ActiveListEndpoint returns the path of the active patient/test list.
func ActiveListEndpoint(c Caller, v Variant) string {
	name := "getPatientDetails"
	if v.IsWalkIn() {
		name = "getWalkinPatientDetails"
	}
	return fmt.Sprintf("test/%s/%d/%d/%d/%s", url.PathEscape(c.Role), c.HospitalID, c.UserID, listSubject(v), name)
}

// CompletedListEndpoint returns the path of the completed reports list.
func CompletedListEndpoint(c Caller, v Variant) string {
	name := "getReportsCompletedPatientDetails"
	if v.IsWalkIn() {
		name = "getWalkinReportsCompletedPatientDetails"
	}
	return fmt.Sprintf("test/%s/%d/%d/%d/%s", url.PathEscape(c.Role), c.HospitalID, c.UserID, listSubject(v), name)
}

// AttachmentsEndpoint returns the direct attachment path. ok is false when the
// variant carries no usable subject id.
func AttachmentsEndpoint(c Caller, v Variant) (path string, ok bool) {
	subject := v.PatientID
	if v.IsWalkIn() && v.WalkInID != 0 {
		subject = strconv.Itoa(v.WalkInID)
	}
	if subject == "" {
		return "", false
	}
	return fmt.Sprintf("attachment/%d/all/%s", c.HospitalID, url.PathEscape(subject)), true
}

// StatusEndpoint selects the status transition path for the variant.
func StatusEndpoint(c Caller, v Variant, k OrderKey) (string, error) {
	if v.IsWalkIn() {
		loinc := k.LoincCode
		if loinc == "" {
			loinc = v.LoincCode
		}
		walkInID := k.WalkInID
		if walkInID == 0 {
			walkInID = v.WalkInID
		}
		if loinc == "" {
			return "", ErrMissingLoincCode
		}
		if walkInID == 0 {
			return "", ErrMissingWalkInID
		}
		return fmt.Sprintf("test/%d/%s/%d/walkinTestStatus", c.HospitalID, url.PathEscape(loinc), walkInID), nil
	}
	if k.TestID == "" {
		return "", ErrMissingTestID
	}
	return fmt.Sprintf("test/%s/%d/%s/testStatus", url.PathEscape(c.Role), c.HospitalID, url.PathEscape(k.TestID)), nil
}

// UploadEndpoint selects the attachment upload path and query for the variant.
// Registered uploads need a patient id from the variant or, failing that, the
// test's own provenance.
func UploadEndpoint(c Caller, v Variant, t TestRef) (string, url.Values, error) {
	q := url.Values{}
	if v.IsWalkIn() {
		loinc := t.LoincCode
		if loinc == "" {
			loinc = v.LoincCode
		}
		if v.WalkInID == 0 {
			return "", nil, ErrMissingWalkInID
		}
		if loinc == "" {
			return "", nil, ErrMissingLoincCode
		}
		q.Set("testID", loinc)
		return fmt.Sprintf("attachment/%d/%d/%d/walkinAttachment", c.HospitalID, v.WalkInID, c.UserID), q, nil
	}

	patientID := v.PatientID
	if patientID == "" {
		patientID = t.PatientID
	}
	if patientID == "" {
		return "", nil, ErrMissingPatientID
	}
	q.Set("testID", t.TestID)
	return fmt.Sprintf("attachment/%d/%d/%s/%d", c.HospitalID, v.TimelineID, url.PathEscape(patientID), c.UserID), q, nil
}
