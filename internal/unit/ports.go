package unit

import (
	"context"

	"github.com/g960059/brigadeboard/internal/api"
	"github.com/g960059/brigadeboard/internal/model"
)

// Commands is the backend command surface the engine drives.
// *gateway.Client satisfies it.
type Commands interface {
	Dispatch(ctx context.Context, incidentID int64, units ...string) (api.DispatchResponse, error)
	SetUnitStatus(ctx context.Context, unitID string, status model.UnitStatus) error
	SetMiscStatus(ctx context.Context, unitID, text string) error
	SetCoverage(ctx context.Context, unitID string, coverage bool) error
	SetOOS(ctx context.Context, unitID string, oos bool, reason string) error
	ClearUnit(ctx context.Context, req api.ClearUnitRequest) (api.ClearUnitResponse, error)
	ClearAll(ctx context.Context, incidentID int64) (api.ClearAllResponse, error)
	ClearAllAndClose(ctx context.Context, incidentID int64, code model.DispositionCode, comment string) (api.ClearAllResponse, error)
	ForceClearUnits(ctx context.Context, incidentID int64) (api.ForceClearResponse, error)
	CloseIncident(ctx context.Context, incidentID int64, code model.DispositionCode, comment string) error
	HoldIncident(ctx context.Context, incidentID int64, reason string) error
	AddRemark(ctx context.Context, incidentID int64, text string) error
	NewIncident(ctx context.Context) (int64, error)
	SaveIncident(ctx context.Context, incidentID int64, fields api.IncidentFields) error
	AssignCrew(ctx context.Context, req api.CrewAssignRequest) error
	UnassignCrew(ctx context.Context, req api.CrewUnassignRequest) error
	TransferCommand(ctx context.Context, fromUnitID, toUnitID string) error
	UnitContext(ctx context.Context, unitID string) (model.UnitContext, error)
	UnitsOnScene(ctx context.Context, unitID string) (api.UnitsOnSceneResponse, error)
	UnitIDs(ctx context.Context) ([]string, error)
}

type Refresher interface {
	RequestRefresh(panels ...model.Panel)
}

// Effects runs best-effort side calls. *effects.Queue satisfies it.
type Effects interface {
	Enqueue(name string, fn func(context.Context) error) string
}

// Prompter asks the operator for input. Every method returns ok=false when
// the operator dismisses the prompt.
type Prompter interface {
	Confirm(ctx context.Context, message string) bool
	// ChooseDisposition offers the codes of set; hold is true when the
	// operator picked Hold instead of a code.
	ChooseDisposition(ctx context.Context, set model.DispositionSet, message string) (code model.DispositionCode, hold bool, ok bool)
	PromptReason(ctx context.Context, message string) (string, bool)
	ChooseUnit(ctx context.Context, message string, candidates []string) (string, bool)
}

// DispositionFlow opens the incident disposition form after the last unit
// on an incident has cleared.
type DispositionFlow interface {
	OpenIncidentDisposition(ctx context.Context, incidentID int64)
}

type Sounder interface {
	Play(ctx context.Context, sound string) error
}

const SoundDispatch = "dispatch"

type noopRefresher struct{}

func (noopRefresher) RequestRefresh(...model.Panel) {}

type inlineEffects struct{}

func (inlineEffects) Enqueue(_ string, fn func(context.Context) error) string {
	_ = fn(context.Background())
	return ""
}

// declinePrompter answers every prompt with "no", which is the right
// default for non-interactive callers.
type declinePrompter struct{}

func (declinePrompter) Confirm(context.Context, string) bool { return false }

func (declinePrompter) ChooseDisposition(context.Context, model.DispositionSet, string) (model.DispositionCode, bool, bool) {
	return "", false, false
}

func (declinePrompter) PromptReason(context.Context, string) (string, bool) { return "", false }

func (declinePrompter) ChooseUnit(context.Context, string, []string) (string, bool) { return "", false }

type noopDisposition struct{}

func (noopDisposition) OpenIncidentDisposition(context.Context, int64) {}
