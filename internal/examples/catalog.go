// Package examples holds the curated pitch catalog shown to users who
// want a starting point before recording their own attempt. The catalog
// is static and versioned with the binary.
package examples

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned by Get for an unknown pitch id.
var ErrNotFound = errors.New("examples: pitch not found")

// Pitch is one worked example: a short scripted pitch plus the talking
// points a coach would expect it to hit.
type Pitch struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Industry      string   `json:"industry"`
	Customer      string   `json:"customer"`
	Scenario      string   `json:"scenario"`
	DurationSec   int      `json:"duration_sec"`
	Transcript    string   `json:"transcript"`
	TalkingPoints []string `json:"talking_points"`
}

var catalog = []Pitch{
	{
		ID:          "saas-onboarding",
		Title:       "Cut onboarding time for mid-market teams",
		Industry:    "saas",
		Customer:    "vp_operations",
		Scenario:    "cold_intro",
		DurationSec: 45,
		Transcript: "Most mid-market teams lose their first six weeks to manual onboarding. " +
			"We cut that to four days by shipping preconfigured workspaces, and your admins keep full control of the rollout. " +
			"Teams like yours see 30 percent faster time to first value in the first quarter.",
		TalkingPoints: []string{
			"quantify the current cost",
			"name the buyer's team explicitly",
			"one concrete metric, not three",
		},
	},
	{
		ID:          "fintech-reconciliation",
		Title:       "Close the books in hours, not weeks",
		Industry:    "fintech",
		Customer:    "cfo",
		Scenario:    "renewal",
		DurationSec: 40,
		Transcript: "Your finance team reconciles 12 ledgers by hand every month. " +
			"We match 98 percent of transactions automatically and flag the rest with full context, " +
			"so your close went from nine days to two last quarter. Renewing locks that rate for two more years.",
		TalkingPoints: []string{
			"lead with the number they already know",
			"tie the renewal to a result they saw",
			"keep the ask to one sentence",
		},
	},
	{
		ID:          "health-scheduling",
		Title:       "Fill cancelled appointment slots automatically",
		Industry:    "healthcare",
		Customer:    "clinic_director",
		Scenario:    "demo_followup",
		DurationSec: 50,
		Transcript: "Every cancelled slot costs your clinic about 200 dollars and most go unfilled. " +
			"Our waitlist engine refills 7 out of 10 cancellations within the hour, with no extra work for your front desk. " +
			"You saw it refill three slots live in the demo. The pilot covers two locations for 90 days.",
		TalkingPoints: []string{
			"anchor on revenue per slot",
			"reference what they watched in the demo",
			"scoped pilot, explicit duration",
		},
	},
	{
		ID:          "retail-returns",
		Title:       "Turn returns into exchanges",
		Industry:    "retail",
		Customer:    "ecommerce_lead",
		Scenario:    "cold_intro",
		DurationSec: 35,
		Transcript: "A third of your returns could be exchanges if the flow offered one at the right moment. " +
			"We recover 22 percent of return revenue on average by suggesting a size or color swap before the refund. " +
			"It plugs into your existing returns portal in an afternoon.",
		TalkingPoints: []string{
			"reframe the loss as recoverable",
			"name the integration cost honestly",
			"skip the feature tour",
		},
	},
	{
		ID:          "devtools-incidents",
		Title:       "Halve your mean time to resolution",
		Industry:    "devtools",
		Customer:    "engineering_manager",
		Scenario:    "competitive_displace",
		DurationSec: 45,
		Transcript: "Your on-call engineers page through four dashboards before they find the failing service. " +
			"We correlate the alert with the deploy that caused it and page the engineer who shipped it, " +
			"which cut resolution time in half for teams your size. Migration from your current tool takes one sprint, and we import your runbooks.",
		TalkingPoints: []string{
			"describe their 2am, not your product",
			"address switching cost before they ask",
			"one claim, one proof point",
		},
	},
	{
		ID:          "logistics-visibility",
		Title:       "Know where every pallet is",
		Industry:    "logistics",
		Customer:    "supply_chain_vp",
		Scenario:    "executive_briefing",
		DurationSec: 55,
		Transcript: "When a shipment slips, your team finds out from the customer. " +
			"We track every pallet across 40 carriers and alert you six hours before a delivery window breaks, " +
			"so your team calls the customer first. Accounts using us renew at 95 percent because the bad news stopped surprising them.",
		TalkingPoints: []string{
			"open with the embarrassing moment",
			"time advantage stated in hours",
			"close on retention, not features",
		},
	},
}

// All returns the full catalog in its curated order.
func All() []Pitch {
	out := make([]Pitch, len(catalog))
	copy(out, catalog)
	return out
}

// Get looks a pitch up by id.
func Get(id string) (Pitch, error) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Pitch{}, ErrNotFound
}

// ByIndustry filters the catalog. An empty industry returns everything.
func ByIndustry(industry string) []Pitch {
	industry = strings.ToLower(strings.TrimSpace(industry))
	if industry == "" {
		return All()
	}
	var out []Pitch
	for _, p := range catalog {
		if p.Industry == industry {
			out = append(out, p)
		}
	}
	return out
}

// Industries lists the distinct industries present in the catalog, sorted.
func Industries() []string {
	seen := make(map[string]bool, len(catalog))
	var out []string
	for _, p := range catalog {
		if !seen[p.Industry] {
			seen[p.Industry] = true
			out = append(out, p.Industry)
		}
	}
	sort.Strings(out)
	return out
}
