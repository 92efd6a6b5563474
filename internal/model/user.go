package model

import "time"

// Roles understood by the authorization middleware.
const (
	RoleCustomer = "CUSTOMER"
	RoleOperator = "OPERATOR"
)

// User represents an application user record as stored in the
// `users` table.  FullName and Phone form the passenger profile that is
// snapshotted onto tickets.
//
// Fields:
//  ID           – primary key identifier of the user.
//  Email        – unique email address.
//  PasswordHash – bcrypt hashed password.
//  Role         – CUSTOMER or OPERATOR.
//  FullName     – passenger display name.
//  Phone        – contact phone number.
//  IsActive     – whether the account is active.
//  CreatedAt    – timestamp of creation.
//  UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64    // users.id
	Email        string    // users.email
	PasswordHash string    // users.password_hash
	Role         string    // users.role
	FullName     string    // users.full_name
	Phone        string    // users.phone
	IsActive     bool      // users.is_active
	CreatedAt    time.Time // users.created_at
	UpdatedAt    time.Time // users.updated_at
}

// Profile returns the passenger snapshot for the user.
func (u User) Profile() Passenger {
	return Passenger{FullName: u.FullName, Phone: u.Phone}
}
