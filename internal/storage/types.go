package storage

import "time"

// Roles stored on a user record.
const (
	RoleUser       = "user"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "super_admin"
)

// ValidRole reports whether role is one of the known roles.
func ValidRole(role string) bool {
	switch role {
	case RoleUser, RoleAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

// PaymentRecord is the provenance of the payment that last granted an entitlement.
type PaymentRecord struct {
	Gateway   string
	PaymentID string
	Status    string
	Gross     float64
	Net       float64
	Fees      float64
}

// Entitlement is a user's current subscription state.
type Entitlement struct {
	Plan               string
	Authorized         bool
	ExpiresAt          time.Time // zero if never granted
	AllowedAccessCount int
	ApprovedAt         time.Time // zero if never granted
	Payment            PaymentRecord
}

// User is a registered account with its access role and entitlement.
type User struct {
	UID              string
	Email            string
	Role             string
	AllowedOwnerKeys []string
	Entitlement      Entitlement
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// EntitlementPatch is the complete set of fields written when a payment is approved.
type EntitlementPatch struct {
	Plan               string
	AllowedAccessCount int
	ExpiresAt          time.Time
	ApprovedAt         time.Time
	Payment            PaymentRecord
}

// FileRecord is the provenance of an uploaded file. It is never modified.
type FileRecord struct {
	FileID     string
	OwnerKey   string
	BatchID    string
	ItemID     string
	MimeType   string
	SizeBytes  int64
	Backend    string
	UploadedBy string
	CreatedAt  time.Time
}
