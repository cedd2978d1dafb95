package metrics

// Well-known metric names. Components record through the shortcuts so the
// alert defaults and dashboards agree on naming.
const (
	APILatency = "api.latency"
	APIRequest = "api.requests"
	APIError   = "api.errors"

	EmailSent         = "email.sent"
	EmailDelivered    = "email.delivered"
	EmailBounced      = "email.bounced"
	EmailOpened       = "email.opened"
	EmailClicked      = "email.clicked"
	EmailUnsubscribed = "email.unsubscribed"

	CampaignCreated   = "campaign.created"
	CampaignSent      = "campaign.sent"
	CampaignCompleted = "campaign.completed"
	CampaignPaused    = "campaign.paused"

	UserLogin  = "user.login"
	UserLogout = "user.logout"
	UserSignup = "user.signup"
	UserActive = "user.active"

	RateLimitHits      = "ratelimit.hits"
	RateLimitRemaining = "ratelimit.remaining"
	RateLimitBlocked   = "ratelimit.blocked"

	SystemHeapUsed     = "system.memory.heap_used"
	SystemHeapTotal    = "system.memory.heap_total"
	SystemRSS          = "system.memory.rss"
	SystemUsagePercent = "system.memory.usage_percent"
	SystemUptime       = "system.uptime"

	HealthStatus = "health.status"
)

// RecordAPICall records the request counter and latency, and the error
// counter when status is 5xx.
func (c *Collector) RecordAPICall(path string, status int, latencyMs float64) {
	tags := map[string]string{"path": path}
	c.Record(APIRequest, 1, tags)
	c.Record(APILatency, latencyMs, tags)
	if status >= 500 {
		c.Record(APIError, 1, tags)
	}
}

// RecordEmailEvent records a well-known email lifecycle counter for a tenant.
func (c *Collector) RecordEmailEvent(name, ownerID string) {
	c.Record(name, 1, map[string]string{"owner_id": ownerID})
}

// RecordCampaignEvent records a campaign lifecycle counter.
func (c *Collector) RecordCampaignEvent(name, campaignID string) {
	c.Record(name, 1, map[string]string{"campaign_id": campaignID})
}
