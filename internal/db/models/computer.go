package models

import "time"

// ApprovalState gates whether a computer can be booked at all.
type ApprovalState string

const (
	ApprovalPending  ApprovalState = "pending"
	ApprovalApproved ApprovalState = "approved"
)

// OperationalStatus is derived from the computer's ongoing bookings, except
// for maintenance which is set and cleared by an administrator.
type OperationalStatus string

const (
	OperationalAvailable   OperationalStatus = "available"
	OperationalInUse       OperationalStatus = "in-use"
	OperationalMaintenance OperationalStatus = "maintenance"
)

// Specs holds the hardware description reported at registration.
type Specs struct {
	CPU     string `db:"cpu" json:"cpu"`
	RAM     string `db:"ram" json:"ram"`
	Storage string `db:"storage" json:"storage"`
	OS      string `db:"os" json:"os"`
}

// Computer represents one bookable lab machine
type Computer struct {
	ID                string            `db:"id" json:"id"`
	Name              string            `db:"name" json:"name"`
	IPAddress         string            `db:"ip_address" json:"ip_address"`
	MACAddress        string            `db:"mac_address" json:"mac_address"`
	Specs             `json:"specs"`
	ApprovalState     ApprovalState     `db:"approval_state" json:"approval_state"`
	OperationalStatus OperationalStatus `db:"operational_status" json:"operational_status"`
	CreatedAt         time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time         `db:"updated_at" json:"updated_at"`
}

func (c *Computer) Approved() bool {
	return c.ApprovalState == ApprovalApproved
}
