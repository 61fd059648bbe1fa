package model

import "time"

// Score is the latest computed value for one area at one scope. Scope is a
// dataset ID, a Category, ScopeFramework or ScopeOverall.
type Score struct {
	AdminPcode string    `json:"admin_pcode"`
	Scope      string    `json:"scope"`
	Value      float64   `json:"value"`
	ComputedAt time.Time `json:"computed_at"`
}
