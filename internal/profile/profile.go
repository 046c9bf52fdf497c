package profile

import (
	"fmt"
	"strings"
	"time"
)

// Profile is the stored insurance profile of a user. Pointer fields are
// nil until the user has provided a value for them.
type Profile struct {
	UserID         string     `json:"userId"`
	DOB            *time.Time `json:"dob,omitempty"`
	Gender         *string    `json:"gender,omitempty"`
	IsMarried      *bool      `json:"isMarried,omitempty"`
	AnnualIncome   *float64   `json:"annualIncome,omitempty"`
	City           *string    `json:"city,omitempty"`
	Occupation     *string    `json:"occupation,omitempty"`
	SmokingStatus  *bool      `json:"smokingStatus,omitempty"`
	CoverageAmount *float64   `json:"coverageAmount,omitempty"`
	PolicyTerm     *int       `json:"policyTerm,omitempty"`
	Issues         []string   `json:"issues"`
	HasIssues      bool       `json:"hasIssues"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Age derives the user's age in whole years from the stored date of birth.
// Returns 0, false when no date of birth is on file.
func (p *Profile) Age(now time.Time) (int, bool) {
	if p.DOB == nil {
		return 0, false
	}
	years := now.Year() - p.DOB.Year()
	anniversary := p.DOB.AddDate(years, 0, 0)
	if anniversary.After(now) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return years, true
}

// Update is a partial profile update. Only non-nil fields are considered.
type Update struct {
	DOB            *time.Time `json:"dob,omitempty"`
	Gender         *string    `json:"gender,omitempty"`
	IsMarried      *bool      `json:"isMarried,omitempty"`
	AnnualIncome   *float64   `json:"annualIncome,omitempty"`
	City           *string    `json:"city,omitempty"`
	Occupation     *string    `json:"occupation,omitempty"`
	SmokingStatus  *bool      `json:"smokingStatus,omitempty"`
	CoverageAmount *float64   `json:"coverageAmount,omitempty"`
	PolicyTerm     *int       `json:"policyTerm,omitempty"`
}

// IsEmpty reports whether the update carries no fields at all.
func (u Update) IsEmpty() bool {
	return u.DOB == nil && u.Gender == nil && u.IsMarried == nil &&
		u.AnnualIncome == nil && u.City == nil && u.Occupation == nil &&
		u.SmokingStatus == nil && u.CoverageAmount == nil && u.PolicyTerm == nil
}

// Fields returns the JSON names of the fields present in the update.
func (u Update) Fields() []string {
	var out []string
	for _, f := range fieldSpecs {
		if f.present(u) {
			out = append(out, f.name)
		}
	}
	return out
}

// fieldSpec describes one updatable profile field: its wire name, its
// human-readable label for confirmation prompts, and accessors used by the
// conflict detector.
type fieldSpec struct {
	name    string
	label   string
	column  string
	present func(Update) bool
	// stored returns the current profile value and whether it is set.
	stored func(*Profile) (string, bool)
	// proposed renders the update value for display.
	proposed func(Update) string
	// equal reports whether the update value matches the stored one.
	equal func(*Profile, Update) bool
	// apply writes the update value into the profile.
	apply func(*Profile, Update)
	// storedVal / proposedVal expose raw values for the wire payload.
	storedVal   func(*Profile) any
	proposedVal func(Update) any
}

var fieldSpecs = []fieldSpec{
	{
		name: "dob", label: "date of birth", column: "dob",
		present:  func(u Update) bool { return u.DOB != nil },
		stored:   func(p *Profile) (string, bool) { return fmtDate(p.DOB), p.DOB != nil },
		proposed: func(u Update) string { return fmtDate(u.DOB) },
		equal:       func(p *Profile, u Update) bool { return p.DOB != nil && sameDay(*p.DOB, *u.DOB) },
		apply:       func(p *Profile, u Update) { d := *u.DOB; p.DOB = &d },
		storedVal:   func(p *Profile) any { return fmtDate(p.DOB) },
		proposedVal: func(u Update) any { return fmtDate(u.DOB) },
	},
	{
		name: "gender", label: "gender", column: "gender",
		present:  func(u Update) bool { return u.Gender != nil },
		stored:   func(p *Profile) (string, bool) { return deref(p.Gender), p.Gender != nil },
		proposed: func(u Update) string { return *u.Gender },
		equal: func(p *Profile, u Update) bool {
			return p.Gender != nil && strings.EqualFold(*p.Gender, *u.Gender)
		},
		apply:       func(p *Profile, u Update) { v := *u.Gender; p.Gender = &v },
		storedVal:   func(p *Profile) any { return deref(p.Gender) },
		proposedVal: func(u Update) any { return *u.Gender },
	},
	{
		name: "isMarried", label: "marital status", column: "is_married",
		present:  func(u Update) bool { return u.IsMarried != nil },
		stored:   func(p *Profile) (string, bool) { return fmtMarried(p.IsMarried), p.IsMarried != nil },
		proposed: func(u Update) string { b := u.IsMarried; return fmtMarried(b) },
		equal:       func(p *Profile, u Update) bool { return p.IsMarried != nil && *p.IsMarried == *u.IsMarried },
		apply:       func(p *Profile, u Update) { v := *u.IsMarried; p.IsMarried = &v },
		storedVal:   func(p *Profile) any { return *p.IsMarried },
		proposedVal: func(u Update) any { return *u.IsMarried },
	},
	{
		name: "annualIncome", label: "annual income", column: "annual_income",
		present:  func(u Update) bool { return u.AnnualIncome != nil },
		stored:   func(p *Profile) (string, bool) { return fmtMoney(p.AnnualIncome), p.AnnualIncome != nil },
		proposed: func(u Update) string { return fmtMoney(u.AnnualIncome) },
		equal: func(p *Profile, u Update) bool {
			return p.AnnualIncome != nil && *p.AnnualIncome == *u.AnnualIncome
		},
		apply:       func(p *Profile, u Update) { v := *u.AnnualIncome; p.AnnualIncome = &v },
		storedVal:   func(p *Profile) any { return *p.AnnualIncome },
		proposedVal: func(u Update) any { return *u.AnnualIncome },
	},
	{
		name: "city", label: "city", column: "city",
		present:  func(u Update) bool { return u.City != nil },
		stored:   func(p *Profile) (string, bool) { return deref(p.City), p.City != nil },
		proposed: func(u Update) string { return *u.City },
		equal:       func(p *Profile, u Update) bool { return p.City != nil && strings.EqualFold(*p.City, *u.City) },
		apply:       func(p *Profile, u Update) { v := *u.City; p.City = &v },
		storedVal:   func(p *Profile) any { return deref(p.City) },
		proposedVal: func(u Update) any { return *u.City },
	},
	{
		name: "occupation", label: "occupation", column: "occupation",
		present:  func(u Update) bool { return u.Occupation != nil },
		stored:   func(p *Profile) (string, bool) { return deref(p.Occupation), p.Occupation != nil },
		proposed: func(u Update) string { return *u.Occupation },
		equal: func(p *Profile, u Update) bool {
			return p.Occupation != nil && strings.EqualFold(*p.Occupation, *u.Occupation)
		},
		apply:       func(p *Profile, u Update) { v := *u.Occupation; p.Occupation = &v },
		storedVal:   func(p *Profile) any { return deref(p.Occupation) },
		proposedVal: func(u Update) any { return *u.Occupation },
	},
	{
		name: "smokingStatus", label: "smoking status", column: "smoking_status",
		present:  func(u Update) bool { return u.SmokingStatus != nil },
		stored:   func(p *Profile) (string, bool) { return fmtSmoking(p.SmokingStatus), p.SmokingStatus != nil },
		proposed: func(u Update) string { return fmtSmoking(u.SmokingStatus) },
		equal: func(p *Profile, u Update) bool {
			return p.SmokingStatus != nil && *p.SmokingStatus == *u.SmokingStatus
		},
		apply:       func(p *Profile, u Update) { v := *u.SmokingStatus; p.SmokingStatus = &v },
		storedVal:   func(p *Profile) any { return *p.SmokingStatus },
		proposedVal: func(u Update) any { return *u.SmokingStatus },
	},
	{
		name: "coverageAmount", label: "coverage amount", column: "coverage_amount",
		present:  func(u Update) bool { return u.CoverageAmount != nil },
		stored:   func(p *Profile) (string, bool) { return fmtMoney(p.CoverageAmount), p.CoverageAmount != nil },
		proposed: func(u Update) string { return fmtMoney(u.CoverageAmount) },
		equal: func(p *Profile, u Update) bool {
			return p.CoverageAmount != nil && *p.CoverageAmount == *u.CoverageAmount
		},
		apply:       func(p *Profile, u Update) { v := *u.CoverageAmount; p.CoverageAmount = &v },
		storedVal:   func(p *Profile) any { return *p.CoverageAmount },
		proposedVal: func(u Update) any { return *u.CoverageAmount },
	},
	{
		name: "policyTerm", label: "policy term", column: "policy_term",
		present:  func(u Update) bool { return u.PolicyTerm != nil },
		stored:   func(p *Profile) (string, bool) { return fmtYears(p.PolicyTerm), p.PolicyTerm != nil },
		proposed: func(u Update) string { return fmtYears(u.PolicyTerm) },
		equal:       func(p *Profile, u Update) bool { return p.PolicyTerm != nil && *p.PolicyTerm == *u.PolicyTerm },
		apply:       func(p *Profile, u Update) { v := *u.PolicyTerm; p.PolicyTerm = &v },
		storedVal:   func(p *Profile) any { return *p.PolicyTerm },
		proposedVal: func(u Update) any { return *u.PolicyTerm },
	},
}

// Column pairs a storage column with the value an update assigns to it.
type Column struct {
	Name  string
	Value any
}

// Columns returns the column assignments the update carries, in declaration
// order.
func (u Update) Columns() []Column {
	var out []Column
	for _, f := range fieldSpecs {
		if f.present(u) {
			out = append(out, Column{Name: f.column, Value: f.proposedVal(u)})
		}
	}
	return out
}

// FieldLabel maps a wire field name to its display label. Unknown names are
// returned unchanged.
func FieldLabel(name string) string {
	for _, f := range fieldSpecs {
		if f.name == name {
			return f.label
		}
	}
	return name
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func fmtDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("2006-01-02")
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func fmtMarried(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "married"
	}
	return "single"
}

func fmtSmoking(b *bool) string {
	if b == nil {
		return ""
	}
	if *b {
		return "smoker"
	}
	return "non-smoker"
}

func fmtMoney(f *float64) string {
	if f == nil {
		return ""
	}
	if *f == float64(int64(*f)) {
		return fmt.Sprintf("%d", int64(*f))
	}
	return fmt.Sprintf("%.2f", *f)
}

func fmtYears(n *int) string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%d years", *n)
}
