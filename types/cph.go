package types

import (
	"fmt"
	"regexp"
	"strconv"
)

// Cph is a parsed County-Parish-Holding identifier (CC/PPP/HHHH).
type Cph struct {
	County  int
	Parish  int
	Holding int
}

// String renders the canonical CC/PPP/HHHH form.
func (c Cph) String() string {
	return fmt.Sprintf("%02d/%03d/%04d", c.County, c.Parish, c.Holding)
}

// Lid is a parsed LID full identifier (XX-CC/PPP/HHHH): a region-prefixed CPH.
type Lid struct {
	Region string
	Cph    Cph
}

// String renders the canonical XX-CC/PPP/HHHH form.
func (l Lid) String() string {
	return l.Region + "-" + l.Cph.String()
}

var (
	cphPattern = regexp.MustCompile(`^(\d{2})/(\d{3})/(\d{4})$`)
	lidPattern = regexp.MustCompile(`^([A-Z]{2})-(\d{2})/(\d{3})/(\d{4})$`)
)

// ParseCph parses CC/PPP/HHHH. Returns an error on any deviation from
// the fixed-width form; callers treat that as skip, not failure.
func ParseCph(s string) (Cph, error) {
	m := cphPattern.FindStringSubmatch(s)
	if m == nil {
		return Cph{}, fmt.Errorf("invalid CPH %q", s)
	}
	county, _ := strconv.Atoi(m[1])
	parish, _ := strconv.Atoi(m[2])
	holding, _ := strconv.Atoi(m[3])
	return Cph{County: county, Parish: parish, Holding: holding}, nil
}

// ParseLid parses XX-CC/PPP/HHHH.
func ParseLid(s string) (Lid, error) {
	m := lidPattern.FindStringSubmatch(s)
	if m == nil {
		return Lid{}, fmt.Errorf("invalid LID full identifier %q", s)
	}
	county, _ := strconv.Atoi(m[2])
	parish, _ := strconv.Atoi(m[3])
	holding, _ := strconv.Atoi(m[4])
	return Lid{
		Region: m[1],
		Cph:    Cph{County: county, Parish: parish, Holding: holding},
	}, nil
}

// CtsCountyInRange reports whether a county code is within the valid
// CTS county range [1,51]. Rows outside it are skipped by the engine.
func CtsCountyInRange(county int) bool {
	return county >= 1 && county <= 51
}
