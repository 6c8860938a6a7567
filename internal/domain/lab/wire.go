package lab

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// The hospital backend is loosely typed: ids arrive as numbers or strings and
// timestamps in several layouts. The types below absorb that and never fail to
// decode, so one malformed field cannot drop a whole patient list.

// Text decodes a JSON string or number into a string.
type Text string

func (t *Text) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil || v == nil {
		*t = ""
		return nil
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		*t = ""
		return nil
	}
	*t = Text(strings.TrimSpace(s))
	return nil
}

func (t Text) String() string { return string(t) }

// Int decodes a JSON number or numeric string. Zero means absent.
type Int int

func (n *Int) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil || v == nil {
		*n = 0
		return nil
	}
	i, err := decimalInt(v)
	if err != nil {
		*n = 0
		return nil
	}
	*n = Int(i)
	return nil
}

// decimalInt reads ids in base 10. Zero-padded slip numbers such as "0055"
// are decimal, so strings bypass cast, which would read them as octal.
func decimalInt(v interface{}) (int, error) {
	if s, ok := v.(string); ok {
		return strconv.Atoi(strings.TrimSpace(s))
	}
	return cast.ToIntE(v)
}

// Stamp is a backend timestamp. Set reports whether the field was present;
// a present but unparseable value resolves to the Unix epoch.
type Stamp struct {
	At  time.Time
	Set bool
}

func (s *Stamp) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil || v == nil {
		*s = Stamp{}
		return nil
	}
	if str, ok := v.(string); ok && strings.TrimSpace(str) == "" {
		*s = Stamp{}
		return nil
	}
	*s = Stamp{At: parseStamp(v), Set: true}
	return nil
}

func (s Stamp) MarshalJSON() ([]byte, error) {
	if !s.Set {
		return []byte("null"), nil
	}
	return json.Marshal(s.At.Format(time.RFC3339Nano))
}

// Or returns s when present, otherwise other.
func (s Stamp) Or(other Stamp) Stamp {
	if s.Set {
		return s
	}
	return other
}

// Time returns the timestamp, or the epoch when absent.
func (s Stamp) Time() time.Time {
	if !s.Set {
		return epoch
	}
	return s.At
}

func parseStamp(v interface{}) time.Time {
	switch x := v.(type) {
	case float64:
		return fromEpochNumber(int64(x))
	case string:
		x = strings.TrimSpace(x)
		if layout, ok := compactLayouts[len(x)]; ok {
			if t, err := time.Parse(layout, x); err == nil {
				return t.UTC()
			}
		}
		if n, err := strconv.ParseInt(x, 10, 64); err == nil {
			return fromEpochNumber(n)
		}
		if t, err := cast.ToTimeE(x); err == nil {
			return t.UTC()
		}
	}
	return epoch
}

// compactLayouts are all-digit date forms, keyed by length, that would
// otherwise be read as epoch numbers.
var compactLayouts = map[int]string{
	8:  "20060102",
	14: "20060102150405",
}

// fromEpochNumber accepts both seconds and milliseconds since the epoch.
func fromEpochNumber(n int64) time.Time {
	if n <= 0 {
		return epoch
	}
	if n > 1e11 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// PatientRecord is one entry of a backend patient/test list.
type PatientRecord struct {
	ID             Text               `json:"id"`
	PatientID      Text               `json:"patientID"`
	PID            Text               `json:"pID"`
	TimelineID     Int                `json:"timelineID"`
	WalkInID       Int                `json:"walkInID"`
	PName          Text               `json:"pName"`
	TestID         Text               `json:"testID"`
	TestName       Text               `json:"testName"`
	Test           Text               `json:"test"`
	LoincCode      Text               `json:"loincCode"`
	Status         Text               `json:"status"`
	AddedOn        Stamp              `json:"addedOn"`
	LatestTestTime Stamp              `json:"latestTestTime"`
	CompletedTime  Stamp              `json:"completedTime"`
	CompletedAlt   Stamp              `json:"_completedTime"`
	TestsList      []TestRecord       `json:"testsList"`
	Attachments    []AttachmentRecord `json:"attachments"`
}

// Ref extracts the identifiers used for variant classification.
func (r PatientRecord) Ref() PatientRef {
	return PatientRef{
		TimelineID: int(r.TimelineID),
		PatientID:  r.PatientID.String(),
		PID:        r.PID.String(),
		WalkInID:   int(r.WalkInID),
		LoincCode:  r.LoincCode.String(),
	}
}

// TestRecord is one entry of a patient record's explicit test list.
type TestRecord struct {
	ID        Text  `json:"id"`
	TestID    Text  `json:"testID"`
	TestName  Text  `json:"testName"`
	Test      Text  `json:"test"`
	LoincCode Text  `json:"loincCode"`
	Status    Text  `json:"status"`
	AddedOn   Stamp `json:"addedOn"`
}

// AttachmentRecord is an attachment as returned by the backend.
type AttachmentRecord struct {
	ID         Text  `json:"id"`
	FileName   Text  `json:"fileName"`
	FileURL    Text  `json:"fileURL"`
	MimeType   Text  `json:"mimeType"`
	AddedOn    Stamp `json:"addedOn"`
	TestID     Text  `json:"testID"`
	LoincCode  Text  `json:"loincCode"`
	PatientID  Text  `json:"patientID"`
	TimelineID Int   `json:"timelineID"`
}

// Attachment converts the record into the canonical shape. A missing addedOn
// resolves to fallback.
func (r AttachmentRecord) Attachment(fallback time.Time) Attachment {
	added := fallback
	if r.AddedOn.Set {
		added = r.AddedOn.At
	}
	return Attachment{
		ID:         r.ID.String(),
		FileName:   r.FileName.String(),
		FileURL:    r.FileURL.String(),
		MimeType:   r.MimeType.String(),
		AddedOn:    added,
		TestID:     r.TestID.String(),
		LoincCode:  r.LoincCode.String(),
		PatientID:  r.PatientID.String(),
		TimelineID: int(r.TimelineID),
	}
}

func attachmentsOf(records []AttachmentRecord) []Attachment {
	out := make([]Attachment, 0, len(records))
	for _, r := range records {
		out = append(out, r.Attachment(epoch))
	}
	return out
}

func firstText(vals ...Text) string {
	for _, v := range vals {
		if v != "" {
			return v.String()
		}
	}
	return ""
}
