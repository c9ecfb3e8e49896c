package entity

import (
	"fmt"
	"strings"
)

type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	Phone      string `json:"phone"`
}

// Missing lists the required fields that are blank.
func (a Address) Missing() []string {
	var missing []string
	required := []struct {
		name  string
		value string
	}{
		{"line1", a.Line1},
		{"city", a.City},
		{"state", a.State},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
		{"phone", a.Phone},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	return missing
}

func (a Address) Validate() error {
	if missing := a.Missing(); len(missing) > 0 {
		return fmt.Errorf("incomplete address: missing %s", strings.Join(missing, ", "))
	}
	return nil
}
