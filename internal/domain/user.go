// Package domain defines the persistence models of the proof backend. These
// types are mapped with GORM.
package domain

import "time"

// User is a person whose foundational ID has been verified at least once.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Name: display name revealed by the wallet ("Full Name").
//   - IDNumber: the unique external identity attribute ("ID Number").
//   - CreatedAt: first successful verification, UTC.
type User struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	IDNumber  string    `json:"id_number"  gorm:"column:id_number;type:varchar(64);not null;uniqueIndex:ux_users_id_number"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }
