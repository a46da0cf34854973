package cleanse

import (
	"strings"

	"github.com/DEFRA/ls-keeper-data-bridge-backend-sub002/types"
)

// Rule identifiers. The ids are stable contract values: they key issue
// fingerprints and appear verbatim in exported reports.
const (
	RuleCtsCphNotInSam       = "CTS_CPH_NOT_IN_SAM"
	RuleSamCphNotInCts       = "SAM_CPH_NOT_IN_CTS"
	RuleCtsSamNoEmails       = "CTS_SAM_NO_EMAIL_ADDRESSES"
	RuleSamMissingEmail      = "SAM_MISSING_EMAIL_ADDRESS"
	RuleCtsSamNoPhones       = "CTS_SAM_NO_PHONE_NUMBERS"
	RuleSamMissingPhones     = "SAM_MISSING_PHONE_NUMBERS"
	RuleSamNoCattleUnit      = "SAM_NO_CATTLE_UNIT"
	RuleSamCattleRelatedCphs = "SAM_CATTLE_RELATED_CPHs"
)

// unknownFeatureNames are the FEATURE_NAME placeholder spellings that
// count as blank, compared case-insensitively.
var unknownFeatureNames = []string{"unknown", "not known", "notknown"}

// RuleContext is the evaluation input for one CTS/SAM holding pair.
type RuleContext struct {
	Cph string
	Lid string
	Cts *CtsHolding
	Sam *SamHolding
}

// Rule is one priority-ordered data-quality check. Evaluate returns
// the issue context and whether the rule fired; rules are pure.
type Rule struct {
	ID          string
	Priority    int
	ErrorCode   string
	Description string
	Evaluate    func(*RuleContext) (types.IssueContext, bool)
}

// CtsPrimaryRules is the ordered rule table evaluated for every CTS
// holding that has a SAM counterpart. Order is the documented priority.
var CtsPrimaryRules = []Rule{
	{
		ID:          RuleCtsSamNoEmails,
		Priority:    2,
		ErrorCode:   "KD002",
		Description: "Neither CTS nor SAM holds an email address for this CPH",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			if len(union(rc.Cts.Emails, rc.Sam.Emails)) > 0 {
				return types.IssueContext{}, false
			}
			return rc.baseContext(), true
		},
	},
	{
		ID:          RuleSamMissingEmail,
		Priority:    3,
		ErrorCode:   "KD003",
		Description: "SAM is missing email addresses held by CTS",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			missing := difference(rc.Cts.Emails, rc.Sam.Emails)
			if len(missing) == 0 {
				return types.IssueContext{}, false
			}
			ictx := rc.baseContext()
			ictx.MissingValues = missing
			return ictx, true
		},
	},
	{
		ID:          RuleCtsSamNoPhones,
		Priority:    4,
		ErrorCode:   "KD004",
		Description: "Neither CTS nor SAM holds a phone number for this CPH",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			if len(union(rc.Cts.Phones, rc.Sam.Phones)) > 0 {
				return types.IssueContext{}, false
			}
			return rc.baseContext(), true
		},
	},
	{
		ID:          RuleSamMissingPhones,
		Priority:    5,
		ErrorCode:   "KD005",
		Description: "SAM is missing phone numbers held by CTS",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			missing := difference(rc.Cts.Phones, rc.Sam.Phones)
			if len(missing) == 0 {
				return types.IssueContext{}, false
			}
			ictx := rc.baseContext()
			ictx.MissingValues = missing
			return ictx, true
		},
	},
	{
		ID:          RuleSamNoCattleUnit,
		Priority:    6,
		ErrorCode:   "KD006",
		Description: "SAM does not record a cattle unit for this CPH",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			if rc.Sam.SpeciesCode == types.SpeciesCattle {
				return types.IssueContext{}, false
			}
			return rc.baseContext(), true
		},
	},
	{
		ID:          RuleSamCattleRelatedCphs,
		Priority:    10,
		ErrorCode:   "KD010",
		Description: "SAM cattle unit has a blank or mismatching location name",
		Evaluate: func(rc *RuleContext) (types.IssueContext, bool) {
			if rc.Sam.SpeciesCode != types.SpeciesCattle {
				return types.IssueContext{}, false
			}
			feature := strings.TrimSpace(rc.Sam.FeatureName)
			if feature != "" && !isUnknownFeature(feature) && foldEqual(feature, rc.Cts.AdrName) {
				return types.IssueContext{}, false
			}
			return rc.baseContext(), true
		},
	},
}

// absenceRules index the two cross-dataset presence checks by rule id.
var absenceRules = map[string]Rule{
	RuleCtsCphNotInSam: {
		ID:          RuleCtsCphNotInSam,
		Priority:    1,
		ErrorCode:   "KD001",
		Description: "CTS holding has no SAM counterpart for this CPH",
	},
	RuleSamCphNotInCts: {
		ID:          RuleSamCphNotInCts,
		Priority:    1,
		ErrorCode:   "KD011",
		Description: "SAM holding has no CTS counterpart for this CPH",
	},
}

// RuleByID returns the rule's descriptive metadata for reporting.
func RuleByID(id string) (Rule, bool) {
	if r, ok := absenceRules[id]; ok {
		return r, true
	}
	for _, r := range CtsPrimaryRules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// baseContext snapshots the pair for issue reporting.
func (rc *RuleContext) baseContext() types.IssueContext {
	ictx := types.IssueContext{
		Cph:               rc.Cph,
		LidFullIdentifier: rc.Lid,
	}
	if rc.Cts != nil {
		ictx.CtsEmails = rc.Cts.Emails
		ictx.CtsPhones = rc.Cts.Phones
		ictx.AdrName = rc.Cts.AdrName
	}
	if rc.Sam != nil {
		ictx.SamEmails = rc.Sam.Emails
		ictx.SamPhones = rc.Sam.Phones
		ictx.SpeciesCode = rc.Sam.SpeciesCode
		ictx.FeatureName = rc.Sam.FeatureName
	}
	return ictx
}

func isUnknownFeature(feature string) bool {
	norm := normalize(feature)
	for _, u := range unknownFeatureNames {
		if norm == u {
			return true
		}
	}
	return false
}

// normalize is the comparison form of a set member: trimmed and
// lowercased. Reported values keep their original case.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func foldEqual(a, b string) bool {
	return normalize(a) == normalize(b)
}

// union deduplicates on normalized form, reporting first-seen
// original-case values.
func union(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, v := range set {
			n := normalize(v)
			if n == "" || seen[n] {
				continue
			}
			seen[n] = true
			out = append(out, v)
		}
	}
	return out
}

// difference returns the members of a absent from b, compared on
// normalized form.
func difference(a, b []string) []string {
	have := make(map[string]bool, len(b))
	for _, v := range b {
		have[normalize(v)] = true
	}
	seen := make(map[string]bool)
	var out []string
	for _, v := range a {
		n := normalize(v)
		if n == "" || have[n] || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, v)
	}
	return out
}
