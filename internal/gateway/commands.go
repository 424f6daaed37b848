package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/model"
)

const DispatchModeDispatch = "D"

func (c *Client) Dispatch(ctx context.Context, incidentID int64, units ...string) (api.DispatchResponse, error) {
	req := api.DispatchRequest{Units: units, IncidentID: incidentID, Mode: DispatchModeDispatch}
	return Decode[api.DispatchResponse](c.Post(ctx, "/api/cli/dispatch", req))
}

func (c *Client) SetUnitStatus(ctx context.Context, unitID string, status model.UnitStatus) error {
	path := fmt.Sprintf("/api/unit_status/%s/%s", escape(unitID), escape(string(status)))
	_, err := c.Post(ctx, path, nil)
	return err
}

func (c *Client) SetMiscStatus(ctx context.Context, unitID, text string) error {
	_, err := c.Post(ctx, "/api/uaw/misc/"+escape(unitID), api.MiscStatusRequest{Text: text})
	return err
}

func (c *Client) SetCoverage(ctx context.Context, unitID string, coverage bool) error {
	_, err := c.Post(ctx, "/api/uaw/coverage/"+escape(unitID), api.CoverageRequest{Coverage: coverage})
	return err
}

func (c *Client) SetOOS(ctx context.Context, unitID string, oos bool, reason string) error {
	_, err := c.Post(ctx, "/api/uaw/oos/"+escape(unitID), api.OOSRequest{OOS: oos, Reason: reason})
	return err
}

func (c *Client) ClearUnit(ctx context.Context, req api.ClearUnitRequest) (api.ClearUnitResponse, error) {
	return Decode[api.ClearUnitResponse](c.Post(ctx, "/api/uaw/clear_unit", req))
}

func (c *Client) ClearAll(ctx context.Context, incidentID int64) (api.ClearAllResponse, error) {
	return Decode[api.ClearAllResponse](c.Post(ctx, "/api/uaw/clear_all", api.ClearAllRequest{IncidentID: incidentID}))
}

func (c *Client) ClearAllAndClose(ctx context.Context, incidentID int64, code model.DispositionCode, comment string) (api.ClearAllResponse, error) {
	path := incidentPath(incidentID, "clear_all_and_close")
	req := api.CloseIncidentRequest{Disposition: string(code), Comment: comment}
	return Decode[api.ClearAllResponse](c.Post(ctx, path, req))
}

func (c *Client) ForceClearUnits(ctx context.Context, incidentID int64) (api.ForceClearResponse, error) {
	return Decode[api.ForceClearResponse](c.Post(ctx, incidentPath(incidentID, "force_clear_units"), nil))
}

func (c *Client) CloseIncident(ctx context.Context, incidentID int64, code model.DispositionCode, comment string) error {
	req := api.CloseIncidentRequest{Disposition: string(code), Comment: comment}
	_, err := c.Post(ctx, incidentPath(incidentID, "close"), req)
	return err
}

func (c *Client) HoldIncident(ctx context.Context, incidentID int64, reason string) error {
	_, err := c.Post(ctx, incidentPath(incidentID, "hold"), api.HoldRequest{Reason: reason})
	return err
}

func (c *Client) AddRemark(ctx context.Context, incidentID int64, text string) error {
	_, err := c.Post(ctx, incidentPath(incidentID, "remark"), api.RemarkRequest{Text: text})
	return err
}

func (c *Client) NewIncident(ctx context.Context) (int64, error) {
	resp, err := Decode[api.NewIncidentResponse](c.Post(ctx, "/api/incident/new", nil))
	if err != nil {
		return 0, err
	}
	if resp.IncidentID <= 0 {
		return 0, fmt.Errorf("new incident: backend returned no incident id")
	}
	return resp.IncidentID, nil
}

func (c *Client) SaveIncident(ctx context.Context, incidentID int64, fields api.IncidentFields) error {
	_, err := c.Post(ctx, incidentPath(incidentID, "save"), fields)
	return err
}

func (c *Client) AssignCrew(ctx context.Context, req api.CrewAssignRequest) error {
	_, err := c.Post(ctx, "/api/crew/assign", req)
	return err
}

func (c *Client) UnassignCrew(ctx context.Context, req api.CrewUnassignRequest) error {
	_, err := c.Post(ctx, "/api/crew/unassign", req)
	return err
}

func (c *Client) TransferCommand(ctx context.Context, fromUnitID, toUnitID string) error {
	path := fmt.Sprintf("/api/transfer_command/%s/%s", escape(fromUnitID), escape(toUnitID))
	_, err := c.Post(ctx, path, nil)
	return err
}

func (c *Client) UnitContext(ctx context.Context, unitID string) (model.UnitContext, error) {
	resp, err := Decode[api.UnitContextResponse](c.Get(ctx, "/api/uaw/context/"+escape(unitID)))
	if err != nil {
		return model.UnitContext{}, err
	}
	u := resp.Unit
	if strings.TrimSpace(u.UnitID) == "" {
		u.UnitID = strings.TrimSpace(unitID)
	}
	crew := make([]model.PersonnelRef, 0, len(u.Crew))
	for _, m := range u.Crew {
		crew = append(crew, model.PersonnelRef{UnitID: m.UnitID, Name: m.Name, Role: m.Role, Shift: m.Shift})
	}
	status := model.CanonicalStatus(u.Status)
	if status == model.StatusUnknown && u.ActiveIncidentID == 0 {
		status = model.StatusAvailable
	}
	return model.UnitContext{
		UnitID:            u.UnitID,
		IsApparatus:       u.IsApparatus,
		ParentApparatusID: strings.TrimSpace(u.ParentApparatusID),
		Crew:              crew,
		ActiveIncidentID:  u.ActiveIncidentID,
		Status:            status,
		MiscStatus:        u.MiscStatus,
		Coverage:          u.Coverage,
	}, nil
}

func (c *Client) UnitsOnScene(ctx context.Context, unitID string) (api.UnitsOnSceneResponse, error) {
	return Decode[api.UnitsOnSceneResponse](c.Get(ctx, "/api/units_on_scene/"+escape(unitID)))
}

func (c *Client) UnitIDs(ctx context.Context) ([]string, error) {
	resp, err := Decode[api.UnitIDsResponse](c.Get(ctx, "/api/unit_ids"))
	if err != nil {
		return nil, err
	}
	return resp.UnitIDs, nil
}

// Panel fetches the rendered body of one board panel.
func (c *Client) Panel(ctx context.Context, panel model.Panel) ([]byte, error) {
	raw, err := c.Get(ctx, "/panel/"+escape(string(panel)))
	if err != nil {
		return nil, err
	}
	return []byte(raw), nil
}

func incidentPath(incidentID int64, action string) string {
	return "/api/incident/" + strconv.FormatInt(incidentID, 10) + "/" + action
}
