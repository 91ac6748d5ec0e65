package model

import "time"

// PushSubscription holds the information for a browser push subscription.
// Subscribers are notified about failed uploads of the listed integrations,
// or of every integration when Integrations is empty.
type PushSubscription struct {
	Endpoint     string    `gorm:"primaryKey" json:"endpoint"`
	P256DH       string    `gorm:"column:p256dh;not null" json:"p256dh"`
	Auth         string    `gorm:"not null" json:"auth"`
	Integrations string    `gorm:"size:256" json:"integrations"` // comma separated
	CreatedAt    time.Time `gorm:"not null" json:"createdAt"`
}
