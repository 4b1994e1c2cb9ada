package api

import (
	"encoding/json"
	"time"
)

// User mirrors the account payload returned by the login endpoints.
type User struct {
	ID              int64    `json:"id"`
	Username        string   `json:"username"`
	FirstName       string   `json:"first_name"`
	LastName        string   `json:"last_name"`
	Email           string   `json:"email"`
	Permissions     []string `json:"permissions"`
	IsAuthenticated bool     `json:"is_authenticated"`
	IsStaff         bool     `json:"is_staff"`
	IsSuperuser     bool     `json:"is_superuser"`
}

// ProcessStage is one step of an order's process sequence.
type ProcessStage struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	SortNumber int    `json:"sort_number"`
}

// ProcessType carries the ordered stage list for a process.
type ProcessType struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Stages []ProcessStage `json:"stages"`
}

// ProcessTypeRef accepts the process_type field of an order, which the server
// serializes either as a raw id or as an expanded ProcessType object.
type ProcessTypeRef struct {
	ID       int64
	Expanded *ProcessType
}

// UnmarshalJSON decodes either form of the process_type field.
func (r *ProcessTypeRef) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var id int64
	if err := json.Unmarshal(data, &id); err == nil {
		r.ID = id
		return nil
	}
	var expanded ProcessType
	if err := json.Unmarshal(data, &expanded); err != nil {
		return err
	}
	r.ID = expanded.ID
	r.Expanded = &expanded
	return nil
}

// MarshalJSON re-encodes the reference in the same shape it arrived in.
func (r ProcessTypeRef) MarshalJSON() ([]byte, error) {
	if r.Expanded != nil {
		return json.Marshal(r.Expanded)
	}
	if r.ID == 0 {
		return []byte("null"), nil
	}
	return json.Marshal(r.ID)
}

// Order is a production order as listed by the scanner filter endpoint.
type Order struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	SortName      int            `json:"sort_name"`
	ProcessTypeID int64          `json:"process_type_id"`
	ProcessType   ProcessTypeRef `json:"process_type"`
}

// ResolveProcessTypeID returns the process type id regardless of how the
// server serialized the process_type field.
func (o Order) ResolveProcessTypeID() int64 {
	if o.ProcessType.Expanded != nil {
		return o.ProcessType.Expanded.ID
	}
	if o.ProcessType.ID != 0 {
		return o.ProcessType.ID
	}
	return o.ProcessTypeID
}

// ImportRecord is the transient wire form of one scanned barcode.
type ImportRecord struct {
	Code      string    `json:"code"`
	CreatedAt time.Time `json:"created_at"`
	UserID    int64     `json:"user_id"`
	Order     int64     `json:"order"`
	Stage     int64     `json:"stage"`
	IsGood    bool      `json:"is_good"`
}

// Outcome is the structured result of a barcode submission. Transport and HTTP
// failures are folded into it so the caller owns the retry policy.
type Outcome struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}
