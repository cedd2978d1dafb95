package ratelimit

import "time"

// Profile is a named fixed-window configuration applied to an identifier.
type Profile struct {
	Name    string
	Window  time.Duration
	Max     int
	Message string
}

// The closed profile set. Callers reference profiles by name; an unknown
// name falls back to API_STANDARD rather than failing the request.
const (
	AuthStrict        = "AUTH_STRICT"
	AuthNormal        = "AUTH_NORMAL"
	APIStandard       = "API_STANDARD"
	APIHeavy          = "API_HEAVY"
	APIBurst          = "API_BURST"
	EmailSending      = "EMAIL_SENDING"
	EmailBurst        = "EMAIL_BURST"
	CampaignCreation  = "CAMPAIGN_CREATION"
	CampaignSending   = "CAMPAIGN_SENDING"
	DataImport        = "DATA_IMPORT"
	DataExport        = "DATA_EXPORT"
	AnalyticsHeavy    = "ANALYTICS_HEAVY"
	PublicAPIIP       = "PUBLIC_API_IP"
	WebhookProcessing = "WEBHOOK_PROCESSING"
)

var profiles = map[string]Profile{
	AuthStrict:        {Name: AuthStrict, Window: 15 * time.Minute, Max: 5, Message: "Too many authentication attempts, please try again later"},
	AuthNormal:        {Name: AuthNormal, Window: 15 * time.Minute, Max: 10, Message: "Too many authentication attempts, please try again later"},
	APIStandard:       {Name: APIStandard, Window: time.Hour, Max: 1000, Message: "API rate limit exceeded"},
	APIHeavy:          {Name: APIHeavy, Window: time.Hour, Max: 200, Message: "Rate limit exceeded for heavy operations"},
	APIBurst:          {Name: APIBurst, Window: time.Minute, Max: 100, Message: "Too many requests, slow down"},
	EmailSending:      {Name: EmailSending, Window: time.Hour, Max: 1000, Message: "Email sending limit reached"},
	EmailBurst:        {Name: EmailBurst, Window: time.Minute, Max: 50, Message: "Email burst limit reached"},
	CampaignCreation:  {Name: CampaignCreation, Window: time.Hour, Max: 100, Message: "Campaign creation limit reached"},
	CampaignSending:   {Name: CampaignSending, Window: time.Hour, Max: 10, Message: "Campaign sending limit reached"},
	DataImport:        {Name: DataImport, Window: time.Hour, Max: 5, Message: "Import limit reached, please wait before importing again"},
	DataExport:        {Name: DataExport, Window: time.Hour, Max: 10, Message: "Export limit reached"},
	AnalyticsHeavy:    {Name: AnalyticsHeavy, Window: time.Hour, Max: 100, Message: "Analytics rate limit exceeded"},
	PublicAPIIP:       {Name: PublicAPIIP, Window: time.Hour, Max: 10000, Message: "Rate limit exceeded"},
	WebhookProcessing: {Name: WebhookProcessing, Window: time.Minute, Max: 1000, Message: "Webhook rate limit exceeded"},
}

// Lookup resolves a profile name. Unknown names resolve to API_STANDARD;
// the boolean reports whether the name was recognized.
func Lookup(name string) (Profile, bool) {
	p, ok := profiles[name]
	if !ok {
		return profiles[APIStandard], false
	}
	return p, true
}

// Profiles returns a copy of the registered profile set.
func Profiles() map[string]Profile {
	out := make(map[string]Profile, len(profiles))
	for k, v := range profiles {
		out[k] = v
	}
	return out
}
