package models

import "time"

// ContactEnquiry is a contact-form submission.
type ContactEnquiry struct {
	Name        string    `json:"name" db:"name"`
	Email       string    `json:"email" db:"email"`
	Mobile      string    `json:"mobile" db:"mobile"`
	Requirement string    `json:"requirement" db:"requirement"`
	Message     string    `json:"message" db:"message"`
	Timestamp   time.Time `json:"timestamp" db:"created_at"`
}
