// Package domain defines the persistence models for subscriptions, newsletter
// issues and the delivery queue. These types are mapped with GORM and form the
// core data layer of the newsletter backend.
package domain

import "time"

// Subscription statuses.
const (
	SubscriptionPending   = "pending_confirmation"
	SubscriptionConfirmed = "confirmed"
)

// Subscription is a newsletter subscriber. Only rows in status "confirmed"
// receive issues.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Email: unique subscriber address.
//   - Name: display name, NFC-normalised.
//   - Status: pending_confirmation or confirmed (enforced by DB constraint).
//   - SubscribedAt: creation time (UTC).
type Subscription struct {
	ID           string    `json:"id"            gorm:"type:char(36);primaryKey"`
	Email        string    `json:"email"         gorm:"type:varchar(320);not null;uniqueIndex:ux_subscriptions_email"`
	Name         string    `json:"name"          gorm:"type:varchar(1024);not null"`
	Status       string    `json:"status"        gorm:"type:varchar(32);not null;index:idx_subscriptions_status;check:status IN ('pending_confirmation','confirmed')"`
	SubscribedAt time.Time `json:"subscribed_at" gorm:"not null"`
}

// TableName returns the database table name for Subscription.
func (Subscription) TableName() string { return "subscriptions" }

// SubscriptionToken links a confirmation token sent by email to its subscriber.
type SubscriptionToken struct {
	Token        string `gorm:"column:subscription_token;type:varchar(64);primaryKey"`
	SubscriberID string `gorm:"type:char(36);not null;index"`

	Subscriber Subscription `gorm:"foreignKey:SubscriberID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for SubscriptionToken.
func (SubscriptionToken) TableName() string { return "subscription_tokens" }

// NewsletterIssue is a published issue. It is written once by the publish
// command and never updated afterwards.
type NewsletterIssue struct {
	ID          string    `json:"id"           gorm:"column:newsletter_issue_id;type:char(36);primaryKey"`
	Title       string    `json:"title"        gorm:"type:text;not null"`
	TextContent string    `json:"text_content" gorm:"type:text;not null"`
	HTMLContent string    `json:"html_content" gorm:"column:html_content;type:text;not null"`
	PublishedAt time.Time `json:"published_at" gorm:"not null"`
}

// TableName returns the database table name for NewsletterIssue.
func (NewsletterIssue) TableName() string { return "newsletter_issues" }

// DeliveryTask is one pending (issue, subscriber) send. Rows are created in
// bulk when an issue is published and deleted by the delivery worker once the
// send is settled. Attempts counts failed sends so far.
type DeliveryTask struct {
	NewsletterIssueID string    `gorm:"type:char(36);primaryKey"`
	SubscriberEmail   string    `gorm:"type:varchar(320);primaryKey"`
	Attempts          int       `gorm:"not null;default:0"`
	CreatedAt         time.Time `gorm:"not null"`

	Issue NewsletterIssue `gorm:"foreignKey:NewsletterIssueID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for DeliveryTask.
func (DeliveryTask) TableName() string { return "issue_delivery_queue" }
