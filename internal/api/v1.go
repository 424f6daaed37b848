package api

// CommandResponse is the common shape of every backend POST reply.
type CommandResponse struct {
	OK      *bool  `json:"ok,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

type DispatchRequest struct {
	Units      []string `json:"units"`
	IncidentID int64    `json:"incident_id"`
	Mode       string   `json:"mode,omitempty"`
}

type DispatchResponse struct {
	CommandResponse
	Dispatched []string `json:"dispatched,omitempty"`
}

type MiscStatusRequest struct {
	Text string `json:"text"`
}

type CoverageRequest struct {
	Coverage bool `json:"coverage"`
}

type OOSRequest struct {
	OOS    bool   `json:"oos"`
	Reason string `json:"reason,omitempty"`
}

type ClearUnitRequest struct {
	IncidentID  int64  `json:"incident_id"`
	UnitID      string `json:"unit_id"`
	Disposition string `json:"disposition,omitempty"`
	Comment     string `json:"comment,omitempty"`
}

type ClearUnitResponse struct {
	CommandResponse
	RequiresEventDisposition bool `json:"requires_event_disposition,omitempty"`
	LastUnitCleared          bool `json:"last_unit_cleared,omitempty"`
	RequiresDisposition      bool `json:"requires_disposition,omitempty"`
	RemainingUnits           int  `json:"remaining_units,omitempty"`
}

// NeedsIncidentDisposition reports whether any of the last-unit signals is set.
func (r ClearUnitResponse) NeedsIncidentDisposition() bool {
	return r.RequiresEventDisposition || r.LastUnitCleared || r.RequiresDisposition
}

type ClearAllRequest struct {
	IncidentID int64 `json:"incident_id"`
}

type ClearAllResponse struct {
	CommandResponse
	ClearedCount int `json:"cleared_count"`
}

type CloseIncidentRequest struct {
	Disposition string `json:"disposition"`
	Comment     string `json:"comment,omitempty"`
}

type ForceClearResponse struct {
	CommandResponse
	ClearedCount int      `json:"cleared_count"`
	ClearedUnits []string `json:"cleared_units,omitempty"`
	Closed       bool     `json:"closed,omitempty"`
}

type HoldRequest struct {
	Reason string `json:"reason"`
}

type CrewAssignRequest struct {
	ApparatusID string `json:"apparatus_id"`
	PersonnelID string `json:"personnel_id"`
	Role        string `json:"role,omitempty"`
	Shift       string `json:"shift,omitempty"`
}

type CrewUnassignRequest struct {
	PersonnelID string `json:"personnel_id"`
	ApparatusID string `json:"apparatus_id,omitempty"`
}

type RemarkRequest struct {
	Text string `json:"text"`
}

type UnitContextResponse struct {
	CommandResponse
	Unit UnitContextPayload `json:"unit"`
}

type UnitContextPayload struct {
	UnitID            string       `json:"unit_id"`
	IsApparatus       bool         `json:"is_apparatus"`
	ParentApparatusID string       `json:"parent_apparatus_id,omitempty"`
	Crew              []CrewMember `json:"crew,omitempty"`
	ActiveIncidentID  int64        `json:"active_incident_id,omitempty"`
	Status            string       `json:"status,omitempty"`
	MiscStatus        string       `json:"misc_status,omitempty"`
	Coverage          bool         `json:"coverage,omitempty"`
}

type CrewMember struct {
	UnitID string `json:"unit_id"`
	Name   string `json:"name,omitempty"`
	Role   string `json:"role,omitempty"`
	Shift  string `json:"shift,omitempty"`
}

type UnitsOnSceneResponse struct {
	CommandResponse
	IncidentID int64         `json:"incident_id,omitempty"`
	Units      []OnSceneUnit `json:"units"`
}

type OnSceneUnit struct {
	UnitID    string `json:"unit_id"`
	Status    string `json:"status,omitempty"`
	IsCommand bool   `json:"is_command,omitempty"`
}

type UnitIDsResponse struct {
	CommandResponse
	UnitIDs []string `json:"unit_ids"`
}

type NewIncidentResponse struct {
	CommandResponse
	IncidentID int64 `json:"incident_id"`
}

type IncidentFields struct {
	Location  string `json:"location,omitempty"`
	Type      string `json:"type,omitempty"`
	Narrative string `json:"narrative,omitempty"`
	Caller    string `json:"caller,omitempty"`
	Priority  string `json:"priority,omitempty"`
}
