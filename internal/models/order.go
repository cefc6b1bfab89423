package models

import "time"

// Client is the customer attached to an order.
type Client struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Order is the CRM record whose status the engine moves.
type Order struct {
	ID         string            `json:"id"`
	Number     string            `json:"number"`
	StatusCode string            `json:"status"`
	Client     Client            `json:"client"`
	Amount     float64           `json:"amount"`
	Fields     map[string]string `json:"fields,omitempty"`
	CreatedAt  time.Time         `json:"createdAt"`
	UpdatedAt  time.Time         `json:"updatedAt"`
}

// TransitionLogEntry is the append-only audit record of an accepted transition.
type TransitionLogEntry struct {
	ID         string    `json:"id"`
	OrderID    string    `json:"orderId"`
	FromStatus string    `json:"fromStatus"`
	ToStatus   string    `json:"toStatus"`
	UserID     string    `json:"userId"`
	Note       string    `json:"note,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// OutboxEntry records a job simulated under dry-run instead of executed.
type OutboxEntry struct {
	ID          string    `json:"id"`
	Type        JobKind   `json:"type"`
	JobID       string    `json:"jobId"`
	OrderID     string    `json:"orderId"`
	TemplateRef string    `json:"templateRef"`
	Channel     string    `json:"channel,omitempty"`
	Recipient   string    `json:"recipient,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	At          time.Time `json:"at"`
}

// FileRecord describes a rendered document held by the file store.
type FileRecord struct {
	ID          string    `json:"id"`
	OrderID     string    `json:"orderId"`
	JobID       string    `json:"jobId"`
	TemplateRef string    `json:"templateRef"`
	Mime        string    `json:"mime"`
	Size        int64     `json:"size"`
	StorageKey  string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`
}
