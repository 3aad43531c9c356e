package database

import (
	"time"

	"github.com/KeppyMarbles/ModbusTiles/internal/codec"
	"github.com/KeppyMarbles/ModbusTiles/internal/transport"
	"github.com/google/uuid"
)

// Device is a single polled PLC/field device.
type Device struct {
	ID         int64
	ExternalID uuid.UUID
	Alias      string
	Host       string
	Port       int
	Protocol   transport.Protocol
	WordOrder  codec.WordOrder
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Tag is a single addressable data point on a Device.
type Tag struct {
	ID               int64
	ExternalID       uuid.UUID
	DeviceID         int64
	Channel          codec.Channel
	Address          uint16
	UnitID           byte
	DataType         codec.DataType
	ReadAmount       int
	HistoryInterval  time.Duration
	HistoryRetention time.Duration
	CurrentValue     []byte // raw JSON, decoded by callers via value.FromAny
	LastUpdated      *time.Time
	LastHistoryAt    *time.Time
	Active           bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReadWidth returns the number of registers (or bits, for bit channels) this
// tag occupies on the wire.
func (t Tag) ReadWidth() int {
	if t.Channel.IsBitChannel() {
		return codec.BitWidth(t.ReadAmount)
	}
	return codec.RegisterWidth(t.DataType, t.ReadAmount)
}

// WriteRequest is a single queued write against a Tag.
type WriteRequest struct {
	ID          int64
	TagID       int64
	Value       []byte // raw JSON
	EnqueuedAt  time.Time
	Processed   bool
	ProcessedAt *time.Time
	Error       string
}

// AlarmOperator is the predicate an AlarmConfig evaluates.
type AlarmOperator string

const (
	OpEquals      AlarmOperator = "equals"
	OpGreaterThan AlarmOperator = "greater_than"
	OpLessThan    AlarmOperator = "less_than"
)

// ThreatLevel ranks AlarmConfig severity; higher wins reconciliation ties
// broken by config id.
type ThreatLevel int

const (
	ThreatLow      ThreatLevel = 1
	ThreatHigh     ThreatLevel = 2
	ThreatCritical ThreatLevel = 3
)

// AlarmConfig is a single alarm rule attached to a Tag.
type AlarmConfig struct {
	ID                    int64
	ExternalID            uuid.UUID
	TagID                 int64
	Alias                 string
	TriggerValue          []byte // raw JSON scalar
	Operator              AlarmOperator
	ThreatLevel           ThreatLevel
	Message               string
	Enabled               bool
	NotificationCooldown  time.Duration
	LastNotified          *time.Time
	CreatedAt             time.Time
}

// ActivatedAlarm records a period during which an AlarmConfig's predicate
// held true. At most one is Active per AlarmConfig's Tag at any instant.
type ActivatedAlarm struct {
	ID             int64
	AlarmConfigID  int64
	ActivatedAt    time.Time
	DeactivatedAt  *time.Time
	Active         bool
}

// Subscription links a user to an AlarmConfig's notification fan-out.
type Subscription struct {
	ID            int64
	UserID        string
	AlarmConfigID int64
	EmailEnabled  bool
	SMSEnabled    bool
}

// Schedule injects a write at a configured time-of-day on configured days.
type Schedule struct {
	ID         int64
	ExternalID uuid.UUID
	TagID      int64
	WriteValue []byte // raw JSON
	TimeOfDay  time.Time // only hour/minute/second significant
	Days       [7]bool   // index 0 = Sunday, matching time.Weekday
	Enabled    bool
	CreatedAt  time.Time
	LastRun    *time.Time
}

// HistoryEntry is one append-only sample of a Tag's value over time.
type HistoryEntry struct {
	ID        int64
	TagID     int64
	Timestamp time.Time
	Value     []byte // raw JSON
}

// ValidationError is returned by Upsert* calls that reject bad input,
// carrying the offending field for API error responses.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation: " + e.Field + ": " + e.Reason
}
