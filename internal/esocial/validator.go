package esocial

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// perApurPattern matches a reference period in YYYY-MM form
var perApurPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// inceptionPeriod is the first reference period the domestic-employer module
// of eSocial accepts
var inceptionPeriod = time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)

// ReferenceLookup resolves coded fields against eSocial reference tables
type ReferenceLookup interface {
	CodeExists(ctx context.Context, table, code string) (bool, error)
}

// Validator checks raw event payloads against their schema and the business
// rules that are uniform across event types
type Validator struct {
	validate *validator.Validate
	refs     ReferenceLookup
	now      func() time.Time
}

// NewValidator creates a validator backed by the given reference lookup
func NewValidator(refs ReferenceLookup) *Validator {
	v := validator.New()

	v.RegisterValidation("cpf", func(fl validator.FieldLevel) bool {
		return ValidCPF(fl.Field().String())
	})
	v.RegisterValidation("cnpj", func(fl validator.FieldLevel) bool {
		return ValidCNPJ(fl.Field().String())
	})
	v.RegisterValidation("nis", func(fl validator.FieldLevel) bool {
		return ValidNIS(fl.Field().String())
	})
	v.RegisterValidation("perapur", func(fl validator.FieldLevel) bool {
		return perApurPattern.MatchString(fl.Field().String())
	})

	return &Validator{
		validate: v,
		refs:     refs,
		now:      time.Now,
	}
}

// Validate parses rawPayload for eventType and applies structural and
// business rules. Every failure is a ValidationError except reference-table
// lookups failing at the store level, which surface as retryable errors.
func (v *Validator) Validate(ctx context.Context, eventType string, rawPayload json.RawMessage) (Payload, error) {
	descriptor, ok := DescriptorFor(eventType)
	if !ok {
		return nil, NewValidationError("eventType", fmt.Sprintf("unknown event type %q", eventType))
	}

	payload, err := descriptor.Parse(rawPayload)
	if err != nil {
		return nil, NewValidationError("payload", err.Error())
	}

	if err := v.validate.Struct(payload); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return nil, NewValidationError(fe.Namespace(), fmt.Sprintf("failed %q validation", fe.Tag()))
		}
		return nil, NewValidationError("payload", err.Error())
	}

	switch p := payload.(type) {
	case *S1202Payload:
		if err := v.validateS1202(ctx, p); err != nil {
			return nil, err
		}
	default:
		return nil, NewValidationError("eventType", fmt.Sprintf("no business rules registered for %q", eventType))
	}

	return payload, nil
}

func (v *Validator) validateS1202(ctx context.Context, p *S1202Payload) error {
	if err := v.validatePeriod(p.IdeEvento.PerApur); err != nil {
		return err
	}

	if p.IdeEvento.IndRetif == "2" && p.IdeEvento.NrRecibo == "" {
		return NewValidationError("ideEvento.nrRecibo", "receipt number is required for a rectification")
	}

	if err := validateRegistration("ideEmpregador.nrInsc", p.IdeEmpregador.TpInsc, p.IdeEmpregador.NrInsc); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(p.DmDev))
	for i, dev := range p.DmDev {
		if _, dup := seen[dev.IdeDmDev]; dup {
			return NewValidationError(fmt.Sprintf("dmDev[%d].ideDmDev", i), fmt.Sprintf("duplicate statement id %q", dev.IdeDmDev))
		}
		seen[dev.IdeDmDev] = struct{}{}

		ok, err := v.refs.CodeExists(ctx, "categorias-trabalhador", fmt.Sprintf("%d", dev.CodCateg))
		if err != nil {
			return NewTransientError(errors.Wrap(err, "reference table lookup failed"))
		}
		if !ok {
			return NewValidationError(fmt.Sprintf("dmDev[%d].codCateg", i), fmt.Sprintf("unknown worker category %d", dev.CodCateg))
		}

		for j, estab := range dev.InfoPerApur.IdeEstabLot {
			if err := validateRegistration(fmt.Sprintf("dmDev[%d].infoPerApur.ideEstabLot[%d].nrInsc", i, j), estab.TpInsc, estab.NrInsc); err != nil {
				return err
			}

			for k, verba := range estab.DetVerbas {
				field := fmt.Sprintf("dmDev[%d].infoPerApur.ideEstabLot[%d].detVerbas[%d]", i, j, k)

				ok, err := v.refs.CodeExists(ctx, "rubricas", verba.CodRubr)
				if err != nil {
					return NewTransientError(errors.Wrap(err, "reference table lookup failed"))
				}
				if !ok {
					return NewValidationError(field+".codRubr", fmt.Sprintf("unknown rubric code %q", verba.CodRubr))
				}

				if err := validateAmount(field+".vrRubr", verba.VrRubr); err != nil {
					return err
				}
				if verba.QtdRubr.IsNegative() {
					return NewValidationError(field+".qtdRubr", "quantity must be non-negative")
				}
			}
		}
	}

	return nil
}

// validatePeriod checks the reference period against the regulatory window:
// not before January 2019 and not after the current month
func (v *Validator) validatePeriod(perApur string) error {
	period, err := time.Parse("2006-01", perApur)
	if err != nil {
		return NewValidationError("ideEvento.perApur", "reference period must be in YYYY-MM form")
	}

	if period.Before(inceptionPeriod) {
		return NewValidationError("ideEvento.perApur", "reference period precedes the eSocial inception date")
	}

	now := v.now().UTC()
	currentMonth := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	if period.After(currentMonth) {
		return NewValidationError("ideEvento.perApur", "reference period cannot be in the future")
	}

	return nil
}

// validateRegistration checks a registry number against the checksum implied
// by its inscription type
func validateRegistration(field string, tpInsc int, nrInsc string) error {
	switch tpInsc {
	case 1:
		if !ValidCNPJ(nrInsc) {
			return NewValidationError(field, "invalid CNPJ")
		}
	case 2:
		if !ValidCPF(nrInsc) {
			return NewValidationError(field, "invalid CPF")
		}
	case 3, 4:
		if len(onlyDigits(nrInsc)) < 8 {
			return NewValidationError(field, "registration number too short")
		}
	default:
		return NewValidationError(field, fmt.Sprintf("unsupported inscription type %d", tpInsc))
	}
	return nil
}

// validateAmount checks that a monetary value is non-negative and carries at
// most two decimal digits
func validateAmount(field string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return NewValidationError(field, "amount must be non-negative")
	}
	if amount.Exponent() < -2 && !amount.Equal(amount.Round(2)) {
		return NewValidationError(field, "amount must have at most two decimal digits")
	}
	return nil
}
