package model

import (
	"strconv"
	"strings"
)

// AdminLevel is an administrative boundary level, ADM0 (country) through ADM5.
type AdminLevel string

const (
	ADM0 AdminLevel = "ADM0"
	ADM1 AdminLevel = "ADM1"
	ADM2 AdminLevel = "ADM2"
	ADM3 AdminLevel = "ADM3"
	ADM4 AdminLevel = "ADM4"
	ADM5 AdminLevel = "ADM5"
)

// ParseAdminLevel accepts "ADM3", "adm3" or a bare "3".
func ParseAdminLevel(s string) (AdminLevel, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "ADM")
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 || n > 5 {
		return "", false
	}
	return AdminLevel("ADM" + strconv.Itoa(n)), true
}

// Depth returns the numeric level (ADM3 -> 3), or -1 if the level is invalid.
func (l AdminLevel) Depth() int {
	if _, ok := ParseAdminLevel(string(l)); !ok {
		return -1
	}
	n, _ := strconv.Atoi(strings.TrimPrefix(string(l), "ADM"))
	return n
}

// Parent returns the immediately higher level. ADM0 has no parent.
func (l AdminLevel) Parent() (AdminLevel, bool) {
	d := l.Depth()
	if d <= 0 {
		return "", false
	}
	return AdminLevel("ADM" + strconv.Itoa(d-1)), true
}

// Valid reports whether l is one of ADM0..ADM5.
func (l AdminLevel) Valid() bool { return l.Depth() >= 0 }

// AdminBoundary is one canonical administrative area.
type AdminBoundary struct {
	Pcode       string     `json:"pcode"`
	Name        string     `json:"name"`
	AdminLevel  AdminLevel `json:"admin_level"`
	ParentPcode string     `json:"parent_pcode,omitempty"`
	CountryID   string     `json:"country_id"`
	Geom        []byte     `json:"-"` // EWKB, SRID 4326
}
