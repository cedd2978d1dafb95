package domain

import "time"

// Contact is a tenant-owned email recipient. Contacts are deduplicated by
// (OwnerID, Email); imports update mutable fields on an existing match.
type Contact struct {
	ID        string
	OwnerID   string
	Email     string
	Name      string
	Phone     string
	Tags      []string
	Metadata  map[string]string
	Source    string // import, api, form
	Status    string // active, unsubscribed, bounced
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ImportRecord is one raw row supplied to a contact import.
type ImportRecord struct {
	Email    string            `json:"email"`
	Name     string            `json:"name,omitempty"`
	Phone    string            `json:"phone,omitempty"`
	Tags     []string          `json:"tags,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Import is the run record for a chunked contact import.
type Import struct {
	ID           string
	OwnerID      string
	TotalRecords int
	TotalBatches int
	Status       string // processing, completed, failed, cancelled
	CreatedAt    time.Time
	FinishedAt   *time.Time
}

// ImportBatch is the per-chunk accounting row.
type ImportBatch struct {
	ImportID   string
	BatchID    string
	BatchIndex int
	Processed  int
	Failed     int
	Errors     []string
	UpdatedAt  time.Time
}

// Recipient is one addressee of a campaign send.
type Recipient struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Template is the campaign content with {{placeholder}} substitution points.
type Template struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text,omitempty"`
}

// Sender is the from-address of a campaign.
type Sender struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send is the run record for a campaign fan-out.
type Send struct {
	ID              string
	CampaignID      string
	OwnerID         string
	TotalRecipients int
	TotalBatches    int
	Status          string // processing, completed, failed, cancelled
	CreatedAt       time.Time
	FinishedAt      *time.Time
}

// SendBatch is the per-batch accounting row of a campaign send.
type SendBatch struct {
	SendID     string
	BatchID    string
	BatchIndex int
	Sent       int
	Failed     int
	Failures   []string
	UpdatedAt  time.Time
}

// Delivery is the per-recipient outcome row.
type Delivery struct {
	ID          string
	SendID      string
	CampaignID  string
	OwnerID     string
	RecipientID string
	Email       string
	Status      string // sent, failed
	MessageID   string
	Error       string
	CreatedAt   time.Time
}
