package unit

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
)

type Options struct {
	Admin       bool
	Actor       string
	Registry    *Registry
	Refresher   Refresher
	Effects     Effects
	Prompter    Prompter
	Disposition DispositionFlow
	Sounder     Sounder
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Engine runs unit lifecycle commands against the backend. It keeps no
// per-unit state of its own: every action reads a fresh unit context.
type Engine struct {
	cmds     Commands
	admin    bool
	actor    string
	registry *Registry
	refresh  Refresher
	effects  Effects
	prompt   Prompter
	dispo    DispositionFlow
	sound    Sounder
	log      *slog.Logger
	m        *metrics.Metrics
}

func NewEngine(cmds Commands, opts Options) *Engine {
	e := &Engine{
		cmds:     cmds,
		admin:    opts.Admin,
		actor:    strings.TrimSpace(opts.Actor),
		registry: opts.Registry,
		refresh:  opts.Refresher,
		effects:  opts.Effects,
		prompt:   opts.Prompter,
		dispo:    opts.Disposition,
		sound:    opts.Sounder,
		log:      logging.OrDefault(opts.Logger).With("component", "unit"),
		m:        opts.Metrics,
	}
	if e.registry == nil {
		e.registry = NewRegistry(cmds.UnitIDs, e.log)
	}
	if e.refresh == nil {
		e.refresh = noopRefresher{}
	}
	if e.effects == nil {
		e.effects = inlineEffects{}
	}
	if e.prompt == nil {
		e.prompt = declinePrompter{}
	}
	if e.dispo == nil {
		e.dispo = noopDisposition{}
	}
	return e
}

func (e *Engine) Registry() *Registry {
	return e.registry
}

func (e *Engine) Context(ctx context.Context, unitID string) (model.UnitContext, error) {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return model.UnitContext{}, err
	}
	return e.cmds.UnitContext(ctx, unitID)
}

// Dispatch assigns an available unit to an incident. The DISPATCHED status
// echo and the dispatch sound are best effort.
func (e *Engine) Dispatch(ctx context.Context, unitID string, incidentID int64) error {
	unitID = strings.TrimSpace(unitID)
	if err := checkStruct(assignmentInput{UnitID: unitID, IncidentID: incidentID}); err != nil {
		return err
	}
	if err := e.registry.Check(ctx, "unit_id", unitID); err != nil {
		return err
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", unitID, err)
	}
	if uc.OnIncident() {
		return fmt.Errorf("%w: unit %s is on incident %d", ErrUnitBusy, unitID, uc.ActiveIncidentID)
	}
	if err := checkTransition(unitID, uc.Status, model.StatusDispatched); err != nil {
		return err
	}
	return e.dispatch(ctx, incidentID, unitID)
}

func (e *Engine) dispatch(ctx context.Context, incidentID int64, units ...string) error {
	_, err := e.cmds.Dispatch(ctx, incidentID, units...)
	e.m.Command("dispatch", err)
	if err != nil {
		return err
	}
	for _, u := range units {
		e.echoStatus(u, model.StatusDispatched)
	}
	e.playSound(SoundDispatch)
	e.refresh.RequestRefresh()
	return nil
}

// Transfer moves a unit that is already committed elsewhere onto incidentID
// by clearing it first. The operator must confirm.
func (e *Engine) Transfer(ctx context.Context, unitID string, incidentID int64) error {
	unitID = strings.TrimSpace(unitID)
	if err := checkStruct(assignmentInput{UnitID: unitID, IncidentID: incidentID}); err != nil {
		return err
	}
	if err := e.registry.Check(ctx, "unit_id", unitID); err != nil {
		return err
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", unitID, err)
	}
	if !uc.OnIncident() {
		return e.Dispatch(ctx, unitID, incidentID)
	}
	if uc.ActiveIncidentID == incidentID {
		return nil
	}
	msg := fmt.Sprintf("Unit %s is assigned to incident %d. Clear it and dispatch to incident %d?", unitID, uc.ActiveIncidentID, incidentID)
	if !e.prompt.Confirm(ctx, msg) {
		return ErrCancelled
	}
	resp, err := e.cmds.ClearUnit(ctx, api.ClearUnitRequest{IncidentID: uc.ActiveIncidentID, UnitID: unitID})
	e.m.Command("clear_unit", err)
	if err != nil {
		return fmt.Errorf("clear %s from incident %d: %w", unitID, uc.ActiveIncidentID, err)
	}
	if resp.NeedsIncidentDisposition() {
		e.dispo.OpenIncidentDisposition(ctx, uc.ActiveIncidentID)
	}
	return e.dispatch(ctx, incidentID, unitID)
}

// Advance moves a committed unit to the next progression phase. A unit with
// no active incident is left alone.
func (e *Engine) Advance(ctx context.Context, unitID string, incidentID int64, phase model.UnitStatus) error {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return err
	}
	if !model.IsAdvancePhase(phase) {
		return invalid("phase", "%q is not a progression phase", phase)
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", unitID, err)
	}
	if !uc.OnIncident() {
		e.log.Debug("advance ignored, unit has no active incident", "unit", unitID, "phase", phase)
		return nil
	}
	if incidentID > 0 && incidentID != uc.ActiveIncidentID {
		e.log.Debug("advance targets the unit's active incident", "unit", unitID, "requested", incidentID, "active", uc.ActiveIncidentID)
	}
	if err := checkTransition(unitID, uc.Status, phase); err != nil {
		return err
	}
	err = e.cmds.SetUnitStatus(ctx, unitID, phase)
	e.m.Command("advance", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh()
	return nil
}

// SetStatus sends an arbitrary status through the transition table.
func (e *Engine) SetStatus(ctx context.Context, unitID string, status model.UnitStatus) error {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return err
	}
	if status == model.StatusUnknown || status == "" {
		return invalid("status", "status is required")
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", unitID, err)
	}
	if err := checkTransition(unitID, uc.Status, status); err != nil {
		return err
	}
	err = e.cmds.SetUnitStatus(ctx, unitID, status)
	e.m.Command("set_status", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh()
	return nil
}

type ClearRequest struct {
	UnitID      string
	IncidentID  int64
	Disposition model.DispositionCode
	Comment     string
}

type ClearResult struct {
	Cleared bool
	Held    bool
	// DispositionOpened is set when the unit was the last one on the
	// incident and the disposition flow was started.
	DispositionOpened bool
	RemainingUnits    int
}

// Clear releases a unit from its incident. A blocking precondition from the
// backend re-prompts the operator once for a disposition, or switches to
// Hold when the operator picks it.
func (e *Engine) Clear(ctx context.Context, req ClearRequest) (ClearResult, error) {
	req.UnitID = strings.TrimSpace(req.UnitID)
	req.Comment = strings.TrimSpace(req.Comment)
	if err := checkStruct(assignmentInput{UnitID: req.UnitID, IncidentID: req.IncidentID}); err != nil {
		return ClearResult{}, err
	}
	if err := e.registry.Check(ctx, "unit_id", req.UnitID); err != nil {
		return ClearResult{}, err
	}
	if req.Disposition != "" {
		code, ok := model.UnitClearDispositions.Normalize(string(req.Disposition))
		if !ok {
			return ClearResult{}, invalid("disposition", "%q is not a unit disposition", req.Disposition)
		}
		req.Disposition = code
	}

	resp, err := e.clearUnit(ctx, req)
	if err != nil {
		rej, blocking := isBlockingPrecondition(err)
		if !blocking {
			return ClearResult{}, err
		}
		code, hold, ok := e.prompt.ChooseDisposition(ctx, model.UnitClearDispositions, rej.Message)
		if !ok {
			return ClearResult{}, err
		}
		if hold {
			if err := e.holdWithPrompt(ctx, req.IncidentID); err != nil {
				return ClearResult{}, err
			}
			return ClearResult{Held: true}, nil
		}
		if !model.UnitClearDispositions.Contains(code) {
			return ClearResult{}, invalid("disposition", "%q is not a unit disposition", code)
		}
		req.Disposition = code
		if resp, err = e.clearUnit(ctx, req); err != nil {
			return ClearResult{}, err
		}
	}

	e.refresh.RequestRefresh()
	out := ClearResult{Cleared: true, RemainingUnits: resp.RemainingUnits}
	if resp.NeedsIncidentDisposition() {
		e.dispo.OpenIncidentDisposition(ctx, req.IncidentID)
		out.DispositionOpened = true
	}
	return out, nil
}

func (e *Engine) clearUnit(ctx context.Context, req ClearRequest) (api.ClearUnitResponse, error) {
	resp, err := e.cmds.ClearUnit(ctx, api.ClearUnitRequest{
		IncidentID:  req.IncidentID,
		UnitID:      req.UnitID,
		Disposition: string(req.Disposition),
		Comment:     req.Comment,
	})
	e.m.Command("clear_unit", err)
	return resp, err
}

func (e *Engine) holdWithPrompt(ctx context.Context, incidentID int64) error {
	reason, ok := e.prompt.PromptReason(ctx, fmt.Sprintf("Reason for holding incident %d", incidentID))
	if !ok {
		return ErrCancelled
	}
	return e.Hold(ctx, incidentID, reason)
}

// ClearAll clears every unit on the incident and then opens the disposition
// flow, since the incident is left without units.
func (e *Engine) ClearAll(ctx context.Context, incidentID int64) (int, error) {
	if err := checkStruct(incidentInput{IncidentID: incidentID}); err != nil {
		return 0, err
	}
	resp, err := e.cmds.ClearAll(ctx, incidentID)
	e.m.Command("clear_all", err)
	if err != nil {
		return 0, err
	}
	e.refresh.RequestRefresh()
	e.dispo.OpenIncidentDisposition(ctx, incidentID)
	return resp.ClearedCount, nil
}

// ClearAllAndClose clears every unit and closes the incident in one call.
func (e *Engine) ClearAllAndClose(ctx context.Context, req model.DispositionRequest) (int, error) {
	code, err := e.closeRequest(req)
	if err != nil {
		return 0, err
	}
	resp, err := e.cmds.ClearAllAndClose(ctx, req.IncidentID, code, strings.TrimSpace(req.Comment))
	e.m.Command("clear_all_and_close", err)
	if err != nil {
		return 0, err
	}
	e.refresh.RequestRefresh()
	return resp.ClearedCount, nil
}

// ForceClear removes every assignment on the incident, including ghost
// units the board no longer shows. Administrators only, after confirmation.
func (e *Engine) ForceClear(ctx context.Context, incidentID int64) (api.ForceClearResponse, error) {
	if err := checkStruct(incidentInput{IncidentID: incidentID}); err != nil {
		return api.ForceClearResponse{}, err
	}
	if !e.admin {
		return api.ForceClearResponse{}, ErrNotAdmin
	}
	msg := fmt.Sprintf("Force clear ALL units from incident %d? Every unit assignment on the incident, including ones not shown on the board, is removed and the units return to available. This cannot be undone.", incidentID)
	if !e.prompt.Confirm(ctx, msg) {
		return api.ForceClearResponse{}, ErrCancelled
	}
	resp, err := e.cmds.ForceClearUnits(ctx, incidentID)
	e.m.Command("force_clear", err)
	if err != nil {
		return api.ForceClearResponse{}, err
	}
	e.log.Info("force cleared incident", "incident", incidentID, "cleared", resp.ClearedCount, "actor", e.actor)
	e.refresh.RequestRefresh()
	return resp, nil
}

func (e *Engine) CloseIncident(ctx context.Context, req model.DispositionRequest) error {
	code, err := e.closeRequest(req)
	if err != nil {
		return err
	}
	err = e.cmds.CloseIncident(ctx, req.IncidentID, code, strings.TrimSpace(req.Comment))
	e.m.Command("close_incident", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh()
	return nil
}

func (e *Engine) closeRequest(req model.DispositionRequest) (model.DispositionCode, error) {
	if err := checkStruct(incidentInput{IncidentID: req.IncidentID}); err != nil {
		return "", err
	}
	if strings.TrimSpace(string(req.Code)) == "" {
		return "", invalid("disposition", "is required to close an incident")
	}
	code, ok := model.IncidentCloseDispositions.Normalize(string(req.Code))
	if !ok {
		return "", invalid("disposition", "%q is not an incident disposition", req.Code)
	}
	return code, nil
}

// Hold parks an incident. The reason is mandatory.
func (e *Engine) Hold(ctx context.Context, incidentID int64, reason string) error {
	reason = strings.TrimSpace(reason)
	if err := checkStruct(holdInput{IncidentID: incidentID, Reason: reason}); err != nil {
		return err
	}
	err := e.cmds.HoldIncident(ctx, incidentID, reason)
	e.m.Command("hold", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh()
	return nil
}

type CrewAssignment struct {
	ApparatusID string
	PersonnelID string
	Role        string
	Shift       string
}

// AssignCrew puts a personnel unit on an apparatus. Moving someone between
// apparatus is the same single call with the new parent.
func (e *Engine) AssignCrew(ctx context.Context, a CrewAssignment) error {
	a.ApparatusID = strings.TrimSpace(a.ApparatusID)
	a.PersonnelID = strings.TrimSpace(a.PersonnelID)
	if err := checkStruct(crewInput{ApparatusID: a.ApparatusID, PersonnelID: a.PersonnelID, Role: a.Role, Shift: a.Shift}); err != nil {
		return err
	}
	if err := e.registry.Check(ctx, "apparatus_id", a.ApparatusID); err != nil {
		return err
	}
	if err := e.registry.Check(ctx, "personnel_id", a.PersonnelID); err != nil {
		return err
	}
	app, err := e.cmds.UnitContext(ctx, a.ApparatusID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", a.ApparatusID, err)
	}
	if !app.IsApparatus {
		return invalid("apparatus_id", "%s is not an apparatus", a.ApparatusID)
	}
	person, err := e.cmds.UnitContext(ctx, a.PersonnelID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", a.PersonnelID, err)
	}
	if person.IsApparatus || len(person.Crew) > 0 {
		return invalid("personnel_id", "%s hosts crew and cannot ride another apparatus", a.PersonnelID)
	}
	err = e.cmds.AssignCrew(ctx, api.CrewAssignRequest{
		ApparatusID: a.ApparatusID,
		PersonnelID: a.PersonnelID,
		Role:        strings.TrimSpace(a.Role),
		Shift:       strings.TrimSpace(a.Shift),
	})
	e.m.Command("crew_assign", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh(model.PanelUnits)
	return nil
}

// UnassignCrew removes a personnel unit from its apparatus. apparatusID may
// be empty; the backend then uses the current parent.
func (e *Engine) UnassignCrew(ctx context.Context, personnelID, apparatusID string) error {
	personnelID = strings.TrimSpace(personnelID)
	apparatusID = strings.TrimSpace(apparatusID)
	if err := checkStruct(unassignInput{PersonnelID: personnelID}); err != nil {
		return err
	}
	if err := e.registry.Check(ctx, "personnel_id", personnelID); err != nil {
		return err
	}
	if apparatusID != "" {
		if err := e.registry.Check(ctx, "apparatus_id", apparatusID); err != nil {
			return err
		}
	}
	err := e.cmds.UnassignCrew(ctx, api.CrewUnassignRequest{PersonnelID: personnelID, ApparatusID: apparatusID})
	e.m.Command("crew_unassign", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh(model.PanelUnits)
	return nil
}

// TransferCommand hands incident command from fromUnitID to another unit on
// scene. With no other unit on scene command goes to fromUnitID itself; with
// several the operator picks. It returns the unit now in command.
func (e *Engine) TransferCommand(ctx context.Context, incidentID int64, fromUnitID string) (string, error) {
	fromUnitID = strings.TrimSpace(fromUnitID)
	if err := e.checkUnit(ctx, fromUnitID); err != nil {
		return "", err
	}
	scene, err := e.cmds.UnitsOnScene(ctx, fromUnitID)
	if err != nil {
		return "", fmt.Errorf("units on scene for %s: %w", fromUnitID, err)
	}
	if incidentID <= 0 {
		incidentID = scene.IncidentID
	}
	candidates := make([]string, 0, len(scene.Units))
	for _, u := range scene.Units {
		id := strings.TrimSpace(u.UnitID)
		if id == "" || strings.EqualFold(id, fromUnitID) {
			continue
		}
		candidates = append(candidates, id)
	}

	var target string
	switch len(candidates) {
	case 0:
		target = fromUnitID
	case 1:
		target = candidates[0]
	default:
		choice, ok := e.prompt.ChooseUnit(ctx, fmt.Sprintf("Transfer command from %s to:", fromUnitID), candidates)
		if !ok {
			return "", ErrCancelled
		}
		if !containsFold(candidates, choice) {
			return "", invalid("to_unit_id", "%s is not on scene", choice)
		}
		target = strings.TrimSpace(choice)
	}

	err = e.cmds.TransferCommand(ctx, fromUnitID, target)
	e.m.Command("transfer_command", err)
	if err != nil {
		return "", err
	}
	if incidentID > 0 {
		text := fmt.Sprintf("COMMAND TRANSFERRED from %s to %s", fromUnitID, target)
		if target == fromUnitID {
			text = fmt.Sprintf("COMMAND ASSUMED by %s", target)
		}
		e.remark(incidentID, text)
	}
	e.refresh.RequestRefresh()
	return target, nil
}

type SelfInitRequest struct {
	UnitID      string
	Fields      api.IncidentFields
	ExtraUnits  []string
	Disposition model.DispositionCode
	Comment     string
}

type SelfInitResult struct {
	IncidentID int64
	Dispatched []string
	Closed     bool
}

// SelfInitiated creates an incident, saves its fields, dispatches the
// initiating unit plus any extra units and, for a daily log with a chosen
// disposition, closes it. A failure after creation returns the incident id
// in a PartialFailureError; completed steps stay in place.
func (e *Engine) SelfInitiated(ctx context.Context, req SelfInitRequest) (SelfInitResult, error) {
	req.UnitID = strings.TrimSpace(req.UnitID)
	extra := make([]string, 0, len(req.ExtraUnits))
	for _, u := range req.ExtraUnits {
		u = strings.TrimSpace(u)
		if u == "" || strings.EqualFold(u, req.UnitID) || containsFold(extra, u) {
			continue
		}
		extra = append(extra, u)
	}
	in := selfInitInput{
		UnitID:   req.UnitID,
		Location: strings.TrimSpace(req.Fields.Location),
		Type:     strings.TrimSpace(req.Fields.Type),
		Extra:    extra,
	}
	if err := checkStruct(in); err != nil {
		return SelfInitResult{}, err
	}
	if err := e.registry.Check(ctx, "unit_id", req.UnitID); err != nil {
		return SelfInitResult{}, err
	}
	if err := e.registry.Check(ctx, "extra_units", extra...); err != nil {
		return SelfInitResult{}, err
	}
	uc, err := e.cmds.UnitContext(ctx, req.UnitID)
	if err != nil {
		return SelfInitResult{}, fmt.Errorf("unit context %s: %w", req.UnitID, err)
	}
	if uc.OnIncident() {
		return SelfInitResult{}, fmt.Errorf("%w: unit %s is on incident %d", ErrUnitBusy, req.UnitID, uc.ActiveIncidentID)
	}
	closeAfter := false
	if req.Disposition != "" {
		code, ok := model.IncidentCloseDispositions.Normalize(string(req.Disposition))
		if !ok {
			return SelfInitResult{}, invalid("disposition", "%q is not an incident disposition", req.Disposition)
		}
		req.Disposition = code
		closeAfter = model.IsDailyLog(in.Type)
	}

	id, err := e.cmds.NewIncident(ctx)
	e.m.Command("incident_new", err)
	if err != nil {
		return SelfInitResult{}, err
	}
	defer e.refresh.RequestRefresh()
	out := SelfInitResult{IncidentID: id}
	done := []string{"create"}
	partial := func(step string, err error) (SelfInitResult, error) {
		return out, &PartialFailureError{IncidentID: id, Step: step, Completed: append([]string(nil), done...), Err: err}
	}

	fields := req.Fields
	fields.Location = in.Location
	fields.Type = in.Type
	err = e.cmds.SaveIncident(ctx, id, fields)
	e.m.Command("incident_save", err)
	if err != nil {
		return partial("save", err)
	}
	done = append(done, "save")

	units := append([]string{req.UnitID}, extra...)
	_, err = e.cmds.Dispatch(ctx, id, units...)
	e.m.Command("dispatch", err)
	if err != nil {
		return partial("dispatch", err)
	}
	done = append(done, "dispatch")
	out.Dispatched = units
	for _, u := range units {
		e.echoStatus(u, model.StatusDispatched)
	}
	e.remark(id, fmt.Sprintf("SELF INITIATED by %s", req.UnitID))

	if closeAfter {
		err = e.cmds.CloseIncident(ctx, id, req.Disposition, strings.TrimSpace(req.Comment))
		e.m.Command("close_incident", err)
		if err != nil {
			return partial("close", err)
		}
		out.Closed = true
	}
	return out, nil
}

func (e *Engine) SetMisc(ctx context.Context, unitID, text string) error {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return err
	}
	text = strings.TrimSpace(text)
	if len(text) > 64 {
		return invalid("text", "must be at most 64 characters")
	}
	err := e.cmds.SetMiscStatus(ctx, unitID, text)
	e.m.Command("misc_status", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh(model.PanelUnits)
	return nil
}

// SetOOS toggles out-of-service. A unit on an incident cannot go out of
// service.
func (e *Engine) SetOOS(ctx context.Context, unitID string, oos bool, reason string) error {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return err
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return fmt.Errorf("unit context %s: %w", unitID, err)
	}
	target := model.StatusAvailable
	if oos {
		if uc.OnIncident() {
			return fmt.Errorf("%w: unit %s is on incident %d", ErrUnitBusy, unitID, uc.ActiveIncidentID)
		}
		target = model.StatusOOS
	}
	if err := checkTransition(unitID, uc.Status, target); err != nil {
		return err
	}
	err = e.cmds.SetOOS(ctx, unitID, oos, strings.TrimSpace(reason))
	e.m.Command("oos", err)
	if err != nil {
		return err
	}
	e.refresh.RequestRefresh(model.PanelUnits)
	return nil
}

// ToggleCoverage flips the coverage flag and returns the new value.
func (e *Engine) ToggleCoverage(ctx context.Context, unitID string) (bool, error) {
	unitID = strings.TrimSpace(unitID)
	if err := e.checkUnit(ctx, unitID); err != nil {
		return false, err
	}
	uc, err := e.cmds.UnitContext(ctx, unitID)
	if err != nil {
		return false, fmt.Errorf("unit context %s: %w", unitID, err)
	}
	next := !uc.Coverage
	err = e.cmds.SetCoverage(ctx, unitID, next)
	e.m.Command("coverage", err)
	if err != nil {
		return uc.Coverage, err
	}
	e.refresh.RequestRefresh(model.PanelUnits)
	return next, nil
}

// checkUnit validates a single unit id and looks it up in the registry.
func (e *Engine) checkUnit(ctx context.Context, unitID string) error {
	if err := checkStruct(unitInput{UnitID: unitID}); err != nil {
		return err
	}
	return e.registry.Check(ctx, "unit_id", unitID)
}

func (e *Engine) echoStatus(unitID string, status model.UnitStatus) {
	e.effects.Enqueue("status_echo", func(ctx context.Context) error {
		return e.cmds.SetUnitStatus(ctx, unitID, status)
	})
}

func (e *Engine) remark(incidentID int64, text string) {
	e.effects.Enqueue("remark", func(ctx context.Context) error {
		return e.cmds.AddRemark(ctx, incidentID, text)
	})
}

func (e *Engine) playSound(sound string) {
	if e.sound == nil {
		return
	}
	e.effects.Enqueue("sound", func(ctx context.Context) error {
		return e.sound.Play(ctx, sound)
	})
}

func containsFold(list []string, v string) bool {
	v = strings.TrimSpace(v)
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}
