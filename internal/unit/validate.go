package unit

import (
	"errors"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("unitid", validateUnitID)
}

// validateUnitID accepts short printable ids; a slash would break the
// path-style endpoints.
func validateUnitID(fl validator.FieldLevel) bool {
	id := strings.TrimSpace(fl.Field().String())
	if id == "" || len(id) > 32 {
		return false
	}
	for _, r := range id {
		if r == '/' || !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

// checkStruct runs tag validation and maps the first failure onto a
// ValidationError.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{Field: fe.Field(), Message: describe(fe)}
	}
	return &ValidationError{Message: err.Error()}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "unitid":
		return "is not a valid unit id"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "nefield":
		return "must differ from " + fe.Param()
	case "dive", "min":
		return "needs at least " + fe.Param() + " entries"
	default:
		return "failed " + fe.Tag()
	}
}

type unitInput struct {
	UnitID string `json:"unit_id" validate:"unitid"`
}

type incidentInput struct {
	IncidentID int64 `json:"incident_id" validate:"gt=0"`
}

type assignmentInput struct {
	UnitID     string `json:"unit_id" validate:"unitid"`
	IncidentID int64  `json:"incident_id" validate:"gt=0"`
}

type crewInput struct {
	ApparatusID string `json:"apparatus_id" validate:"unitid"`
	PersonnelID string `json:"personnel_id" validate:"unitid,nefield=ApparatusID"`
	Role        string `json:"role" validate:"max=32"`
	Shift       string `json:"shift" validate:"max=16"`
}

type unassignInput struct {
	PersonnelID string `json:"personnel_id" validate:"unitid"`
}

type holdInput struct {
	IncidentID int64  `json:"incident_id" validate:"gt=0"`
	Reason     string `json:"reason" validate:"required,max=500"`
}

type selfInitInput struct {
	UnitID   string   `json:"unit_id" validate:"unitid"`
	Location string   `json:"location" validate:"required,max=200"`
	Type     string   `json:"type" validate:"required,max=64"`
	Extra    []string `json:"extra_units" validate:"dive,unitid"`
}
