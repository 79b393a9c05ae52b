package domain

import "time"

// PaymentStatus enumerates settlement states of an invoice.
type PaymentStatus string

const (
	PaymentStatusPaid    PaymentStatus = "PAID"
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusOverdue PaymentStatus = "OVERDUE"
	PaymentStatusOnHold  PaymentStatus = "ON_HOLD"
)

// ReferenceKind distinguishes invoices from purchase orders.
type ReferenceKind string

const (
	ReferenceKindInvoice       ReferenceKind = "INVOICE"
	ReferenceKindPurchaseOrder ReferenceKind = "PURCHASE_ORDER"
)

// ReferenceRecord is an invoice or purchase order row a ticket concerns.
// Multiple records may share an Identifier (duplicate bookings); the matcher
// breaks ties on UpdatedAt.
type ReferenceRecord struct {
	ID            string
	Kind          ReferenceKind
	Identifier    string
	PONumber      *string
	VendorName    string
	CustomerName  string
	Amount        float64
	Currency      string
	PaymentStatus PaymentStatus
	Fulfilled     bool
	InvoiceDate   time.Time
	DueDate       *time.Time
	ClearingDate  *time.Time
	UpdatedAt     time.Time
}

// ReferenceFilter narrows reference searches.
type ReferenceFilter struct {
	Identifier    *string
	PONumber      *string
	VendorName    *string
	CustomerName  *string
	PaymentStatus *PaymentStatus
	Limit         int
}
