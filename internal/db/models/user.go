package models

import "time"

// UserProfile is the extended profile stored at registration. CompanyCode and
// StaffID are denormalized into new punches for query convenience.
type UserProfile struct {
	UserID       string    `db:"user_id" json:"userId"`
	StaffID      string    `db:"staff_id" json:"staffId"`
	Email        string    `db:"email" json:"email"`
	CompanyCode  string    `db:"company_code" json:"companyCode"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
