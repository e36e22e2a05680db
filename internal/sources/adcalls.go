package sources

import "github.com/mattjoyce/callhook/internal/config"

const (
	AdCallsHook           = "AdCallsHook"
	AdCallsHookBeforeCall = "AdCallsHookBeforeCall"
	AdCallsHookAfterCall  = "AdCallsHookAfterCall"

	adCallsIcon     = "file:adcalls.svg"
	adCallsCategory = "AdCalls"
)

// beforeCallStripFields are the session and click-tracking identifiers the
// before-call hook drops before emitting, plus the secretstring the before-call
// payload carries.
var beforeCallStripFields = []string{
	"secretstring",
	"session_cid",
	"google_gclid",
	"google_dclid",
	"bgid",
	"campaignid",
	"msclkid",
	"domain",
}

// Builtins returns the built-in AdCalls source definitions.
func Builtins() []config.SourceDef {
	return []config.SourceDef{
		{
			Name:        AdCallsHook,
			DisplayName: "AdCalls Hook",
			Description: "Starts the workflow when one of your AdCalls numbers is called",
			Icon:        adCallsIcon,
			Categories:  []string{adCallsCategory},
		},
		{
			Name:        AdCallsHookBeforeCall,
			DisplayName: "AdCalls Before Call",
			Description: "Starts the workflow before a call on one of your AdCalls numbers is connected",
			Icon:        adCallsIcon,
			Categories:  []string{adCallsCategory},
			StripFields: append([]string(nil), beforeCallStripFields...),
		},
		{
			Name:        AdCallsHookAfterCall,
			DisplayName: "AdCalls After Call",
			Description: "Starts the workflow after a call finished on one of your AdCalls numbers",
			Icon:        adCallsIcon,
			Categories:  []string{adCallsCategory},
		},
	}
}
