package domain

import (
	"testing"
	"time"
)

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		Subscription{}.TableName():      "subscriptions",
		SubscriptionToken{}.TableName(): "subscription_tokens",
		NewsletterIssue{}.TableName():   "newsletter_issues",
		DeliveryTask{}.TableName():      "issue_delivery_queue",
		Idempotency{}.TableName():       "idempotency",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_QueueKeysAndStatusCheck(t *testing.T) {
	db := newTestDB(t)
	if err := db.AutoMigrate(&Subscription{}, &SubscriptionToken{}, &NewsletterIssue{}, &DeliveryTask{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	now := time.Now().UTC()

	if err := db.Create(&Subscription{ID: "s1", Email: "a@example.com", Name: "A", Status: "bogus", SubscribedAt: now}).Error; err == nil {
		t.Fatalf("expected status check constraint to reject unknown status")
	}

	issue := &NewsletterIssue{ID: "i1", Title: "t", TextContent: "x", HTMLContent: "<p>x</p>", PublishedAt: now}
	if err := db.Create(issue).Error; err != nil {
		t.Fatalf("create issue: %v", err)
	}
	task := &DeliveryTask{NewsletterIssueID: "i1", SubscriberEmail: "a@example.com", CreatedAt: now}
	if err := db.Create(task).Error; err != nil {
		t.Fatalf("create task: %v", err)
	}
	dup := &DeliveryTask{NewsletterIssueID: "i1", SubscriberEmail: "a@example.com", CreatedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected (issue, email) to be unique")
	}

	var got DeliveryTask
	if err := db.First(&got, "newsletter_issue_id = ? AND subscriber_email = ?", "i1", "a@example.com").Error; err != nil {
		t.Fatalf("load task: %v", err)
	}
	if got.Attempts != 0 {
		t.Fatalf("attempts default = %d; want 0", got.Attempts)
	}
}
