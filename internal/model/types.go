package model

import (
	"strings"
	"time"
)

// UnitStatus is the normalized dispatch state of a unit.
type UnitStatus string

const (
	StatusAvailable    UnitStatus = "AVAILABLE"
	StatusDispatched   UnitStatus = "DISPATCHED"
	StatusEnroute      UnitStatus = "ENROUTE"
	StatusArrived      UnitStatus = "ARRIVED"
	StatusTransporting UnitStatus = "TRANSPORTING"
	StatusAtMedical    UnitStatus = "AT_MEDICAL"
	StatusCleared      UnitStatus = "CLEARED"
	StatusOOS          UnitStatus = "OOS"
	StatusUnknown      UnitStatus = "UNKNOWN"
)

// CanonicalStatus maps backend spellings onto the status enum.
func CanonicalStatus(raw string) UnitStatus {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "AVAILABLE", "AVAIL", "AV", "IN_SERVICE":
		return StatusAvailable
	case "DISPATCHED", "DISP", "DP":
		return StatusDispatched
	case "ENROUTE", "EN_ROUTE", "ER":
		return StatusEnroute
	case "ARRIVED", "ON_SCENE", "ONSCENE", "OS":
		return StatusArrived
	case "TRANSPORTING", "TRANSPORT", "TR":
		return StatusTransporting
	case "AT_MEDICAL", "AT_HOSPITAL", "AM":
		return StatusAtMedical
	case "CLEARED", "CLEAR", "CLR":
		return StatusCleared
	case "OOS", "OUT_OF_SERVICE":
		return StatusOOS
	default:
		return StatusUnknown
	}
}

// AdvancePhases are the progression steps accepted by Advance.
var AdvancePhases = []UnitStatus{StatusEnroute, StatusArrived, StatusTransporting, StatusAtMedical}

func IsAdvancePhase(s UnitStatus) bool {
	for _, p := range AdvancePhases {
		if p == s {
			return true
		}
	}
	return false
}

type PersonnelRef struct {
	UnitID string `json:"unit_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Shift  string `json:"shift,omitempty"`
}

// UnitContext is a fresh, per-action view of a unit. It is never cached.
type UnitContext struct {
	UnitID            string
	IsApparatus       bool
	ParentApparatusID string
	Crew              []PersonnelRef
	ActiveIncidentID  int64
	Status            UnitStatus
	MiscStatus        string
	Coverage          bool
}

func (u UnitContext) OnIncident() bool {
	return u.ActiveIncidentID > 0
}

// DispositionCode classifies how a unit or incident involvement ended.
type DispositionCode string

const (
	DispReport       DispositionCode = "R"
	DispClear        DispositionCode = "C"
	DispCancel       DispositionCode = "X"
	DispFalseAlarm   DispositionCode = "FA"
	DispNoReport     DispositionCode = "NR"
	DispUnfounded    DispositionCode = "UF"
	DispNoContact    DispositionCode = "NC"
	DispTransported  DispositionCode = "T"
	DispPatientRefTT DispositionCode = "PRTT"
	DispNoAction     DispositionCode = "NA"
	DispNotFound     DispositionCode = "NF"
	DispCitation     DispositionCode = "CT"
	DispMutualFire   DispositionCode = "MF"
)

// DispositionSet is one context-specific enumeration of codes. The unit-clear
// and incident-close sets overlap but neither contains the other.
type DispositionSet struct {
	name  string
	codes []DispositionCode
}

var (
	UnitClearDispositions = DispositionSet{
		name: "unit_clear",
		codes: []DispositionCode{
			DispReport, DispClear, DispCancel, DispFalseAlarm, DispNoReport, DispUnfounded,
			DispNoContact, DispTransported, DispPatientRefTT, DispNoAction, DispNotFound,
		},
	}
	IncidentCloseDispositions = DispositionSet{
		name: "incident_close",
		codes: []DispositionCode{
			DispReport, DispClear, DispCancel, DispFalseAlarm, DispNoReport, DispUnfounded,
			DispNoContact, DispTransported, DispCitation, DispMutualFire, DispNoAction,
		},
	}
)

func (d DispositionSet) Name() string { return d.name }

func (d DispositionSet) Codes() []DispositionCode {
	out := make([]DispositionCode, len(d.codes))
	copy(out, d.codes)
	return out
}

func (d DispositionSet) Contains(code DispositionCode) bool {
	for _, c := range d.codes {
		if c == code {
			return true
		}
	}
	return false
}

// Normalize upper-cases and trims a raw code; ok is false when the code is
// not part of the set.
func (d DispositionSet) Normalize(raw string) (DispositionCode, bool) {
	code := DispositionCode(strings.ToUpper(strings.TrimSpace(raw)))
	return code, d.Contains(code)
}

type DispositionRequest struct {
	IncidentID int64
	Code       DispositionCode
	Comment    string
}

// UnitTimer is the single countdown a unit may own. While paused EndTime is
// zero and PausedRemaining holds the frozen remainder.
type UnitTimer struct {
	UnitID          string
	Label           string
	Duration        time.Duration
	EndTime         time.Time
	PausedRemaining time.Duration
	Paused          bool
	IncidentID      int64
	StartedAt       time.Time
}

func (t UnitTimer) Remaining(now time.Time) time.Duration {
	if t.Paused {
		return t.PausedRemaining
	}
	rem := t.EndTime.Sub(now)
	if rem < 0 {
		return 0
	}
	return rem
}

func (t UnitTimer) Expired(now time.Time) bool {
	return !t.Paused && !now.Before(t.EndTime)
}

type FlashingIncident struct {
	IncidentID int64
	UnitID     string
	Reason     string
	StartedAt  time.Time
}

// ConnectionPhase is the lifecycle of the live channel.
type ConnectionPhase string

const (
	PhaseConnecting   ConnectionPhase = "CONNECTING"
	PhaseOpen         ConnectionPhase = "OPEN"
	PhaseReconnecting ConnectionPhase = "RECONNECTING"
	PhaseFallback     ConnectionPhase = "FALLBACK"
	PhaseClosed       ConnectionPhase = "CLOSED"
)

type ConnectionState struct {
	Phase     ConnectionPhase
	Attempt   int
	NextDelay time.Duration
}

// Panel identifies a refreshable region of the board.
type Panel string

const (
	PanelActive Panel = "active"
	PanelOpen   Panel = "open"
	PanelUnits  Panel = "units"
)

var AllPanels = []Panel{PanelActive, PanelOpen, PanelUnits}

func CanonicalPanel(raw string) (Panel, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "active", "active-incidents", "active_incidents":
		return PanelActive, true
	case "open", "open-incidents", "open_incidents":
		return PanelOpen, true
	case "units", "unit", "unit-board":
		return PanelUnits, true
	default:
		return "", false
	}
}

// IncidentType values with special handling on the client.
const (
	IncidentTypeDailyLog = "DAILY LOG"
)

func IsDailyLog(incidentType string) bool {
	t := strings.ToUpper(strings.TrimSpace(incidentType))
	return t == IncidentTypeDailyLog || t == "DAILY_LOG" || t == "DAILYLOG"
}
