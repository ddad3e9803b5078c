package biomarker

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Status is a reading's clinical band. The zero value is the most urgent so
// that ascending order lists what needs attention first.
type Status int

const (
	StatusOutOfRange Status = iota
	StatusCaution
	StatusOptimal
)

var statusNames = map[Status]string{
	StatusOutOfRange: "outOfRange",
	StatusCaution:    "caution",
	StatusOptimal:    "optimal",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for st, n := range statusNames {
		if n == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown biomarker status %q", name)
}

// Classify places value in its band. Both bands are inclusive at each end.
func Classify(value, optimalMin, optimalMax, conventionalMin, conventionalMax float64) Status {
	switch {
	case value >= optimalMin && value <= optimalMax:
		return StatusOptimal
	case value >= conventionalMin && value <= conventionalMax:
		return StatusCaution
	default:
		return StatusOutOfRange
	}
}

type Reading struct {
	ID              uuid.UUID  `db:"id" json:"id"`
	PatientID       uuid.UUID  `db:"patient_id" json:"patient_id"`
	AnalyticsID     *uuid.UUID `db:"analytics_id" json:"analytics_id,omitempty"`
	Name            string     `db:"name" json:"name" validate:"required,max=120"`
	Value           float64    `db:"value" json:"value"`
	Unit            string     `db:"unit" json:"unit" validate:"max=40"`
	OptimalMin      float64    `db:"optimal_min" json:"optimal_min"`
	OptimalMax      float64    `db:"optimal_max" json:"optimal_max" validate:"gtefield=OptimalMin"`
	ConventionalMin float64    `db:"conventional_min" json:"conventional_min"`
	ConventionalMax float64    `db:"conventional_max" json:"conventional_max" validate:"gtefield=ConventionalMin"`
	MeasuredAt      time.Time  `db:"measured_at" json:"measured_at" validate:"required"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

func (r *Reading) Status() Status {
	return Classify(r.Value, r.OptimalMin, r.OptimalMax, r.ConventionalMin, r.ConventionalMax)
}

// Classified is a reading paired with its computed status.
type Classified struct {
	*Reading
	Status Status `json:"status"`
}

func ClassifyAll(readings []*Reading) []Classified {
	out := make([]Classified, len(readings))
	for i, r := range readings {
		out[i] = Classified{Reading: r, Status: r.Status()}
	}
	return out
}

// SortReadings orders readings most urgent first, then most recent first.
// Equal readings keep their input order.
func SortReadings(cs []Classified) {
	sort.SliceStable(cs, func(i, j int) bool {
		if cs[i].Status != cs[j].Status {
			return cs[i].Status < cs[j].Status
		}
		return cs[i].MeasuredAt.After(cs[j].MeasuredAt)
	})
}

// Summary counts readings per status.
type Summary struct {
	Total      int `json:"total"`
	Optimal    int `json:"optimal"`
	Caution    int `json:"caution"`
	OutOfRange int `json:"out_of_range"`
}

func Summarize(cs []Classified) Summary {
	s := Summary{Total: len(cs)}
	for _, c := range cs {
		switch c.Status {
		case StatusOptimal:
			s.Optimal++
		case StatusCaution:
			s.Caution++
		default:
			s.OutOfRange++
		}
	}
	return s
}

// Latest keeps the most recent reading per biomarker name.
func Latest(readings []*Reading) []*Reading {
	byName := make(map[string]*Reading)
	var order []string
	for _, r := range readings {
		cur, ok := byName[r.Name]
		if !ok {
			order = append(order, r.Name)
		}
		if !ok || r.MeasuredAt.After(cur.MeasuredAt) {
			byName[r.Name] = r
		}
	}
	out := make([]*Reading, 0, len(order))
	for _, n := range order {
		out = append(out, byName[n])
	}
	return out
}
