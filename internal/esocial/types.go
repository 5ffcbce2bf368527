package esocial

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Event type codes from the eSocial catalogue. Only the types the service
// currently declares are registered; the descriptor table is the extension
// point for the rest of the catalogue.
const (
	EventTypeS1202 = "S-1202"
)

// Payload is a decoded, type-specific event body
type Payload interface {
	EventType() string
}

// Descriptor binds an event type to its payload schema and XML layout
type Descriptor struct {
	Type      string
	Namespace string
	RootTag   string
	Parse     func(raw json.RawMessage) (Payload, error)
}

var descriptors = map[string]*Descriptor{
	EventTypeS1202: {
		Type:      EventTypeS1202,
		Namespace: "http://www.esocial.gov.br/schema/evt/evtRemun/v_S_01_00_00",
		RootTag:   "evtRemun",
		Parse: func(raw json.RawMessage) (Payload, error) {
			var p S1202Payload
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, errors.Wrap(err, "failed to unmarshal S-1202 payload")
			}
			return &p, nil
		},
	},
}

// DescriptorFor returns the descriptor registered for an event type
func DescriptorFor(eventType string) (*Descriptor, bool) {
	d, ok := descriptors[eventType]
	return d, ok
}

// S1202Payload is the remuneration declaration for a worker covered by the
// general social-security regime
type S1202Payload struct {
	IdeEvento      IdeEvento      `json:"ideEvento" validate:"required"`
	IdeEmpregador  IdeEmpregador  `json:"ideEmpregador" validate:"required"`
	IdeTrabalhador IdeTrabalhador `json:"ideTrabalhador" validate:"required"`
	DmDev          []DmDev        `json:"dmDev" validate:"required,min=1,dive"`
	InfoComplCont  *InfoComplCont `json:"infoComplCont,omitempty"`
	InfoCompl      *InfoCompl     `json:"infoCompl,omitempty"`
}

// EventType implements Payload
func (p *S1202Payload) EventType() string { return EventTypeS1202 }

// IdeEvento identifies the declaration itself: reference period, environment
// and emitting process
type IdeEvento struct {
	IndRetif    string `json:"indRetif" validate:"required,oneof=1 2"`
	NrRecibo    string `json:"nrRecibo,omitempty" validate:"omitempty,len=44"`
	PerApur     string `json:"perApur" validate:"required,perapur"`
	IndApuracao string `json:"indApuracao" validate:"required,oneof=1 2"`
	IndGuia     string `json:"indGuia" validate:"required,oneof=1 2"`
	TpAmb       string `json:"tpAmb" validate:"required,oneof=1 2"`
	ProcEmi     string `json:"procEmi" validate:"required,oneof=1 2 3 4 5"`
	VerProc     string `json:"verProc" validate:"required"`
}

// IdeEmpregador identifies the declaring employer
type IdeEmpregador struct {
	TpInsc int    `json:"tpInsc" validate:"required,min=1,max=4"`
	NrInsc string `json:"nrInsc" validate:"required"`
}

// IdeTrabalhador identifies the worker the remuneration refers to
type IdeTrabalhador struct {
	CpfTrab   string `json:"cpfTrab" validate:"required,cpf"`
	NisTrab   string `json:"nisTrab,omitempty" validate:"omitempty,nis"`
	NmTrab    string `json:"nmTrab" validate:"required"`
	Sexo      string `json:"sexo" validate:"required,oneof=M F"`
	RacaCor   string `json:"racaCor" validate:"required,max=6"`
	EstCiv    string `json:"estCiv" validate:"required,max=5"`
	GrauInstr string `json:"grauInstr" validate:"required,len=2"`
	NmSoc     string `json:"nmSoc,omitempty"`
}

// DmDev is one remuneration statement for the period
type DmDev struct {
	IdeDmDev    string      `json:"ideDmDev" validate:"required"`
	CodCateg    int         `json:"codCateg" validate:"required,min=101,max=905"`
	InfoPerApur InfoPerApur `json:"infoPerApur" validate:"required"`
}

// InfoPerApur groups the establishments the statement covers
type InfoPerApur struct {
	IdeEstabLot []IdeEstabLot `json:"ideEstabLot" validate:"required,min=1,dive"`
}

// IdeEstabLot identifies an establishment/lot and its payroll lines
type IdeEstabLot struct {
	TpInsc     int        `json:"tpInsc" validate:"required,min=1,max=4"`
	NrInsc     string     `json:"nrInsc" validate:"required"`
	CodLotacao string     `json:"codLotacao" validate:"required"`
	DetVerbas  []DetVerba `json:"detVerbas" validate:"required,min=1,dive"`
}

// DetVerba is a single payroll line item
type DetVerba struct {
	CodRubr    string          `json:"codRubr" validate:"required"`
	IdeTabRubr string          `json:"ideTabRubr" validate:"required"`
	QtdRubr    decimal.Decimal `json:"qtdRubr"`
	VrRubr     decimal.Decimal `json:"vrRubr"`
	IndApurIR  int             `json:"indApurIR" validate:"min=0,max=1"`
}

// InfoComplCont carries optional occupation details
type InfoComplCont struct {
	CodCBO       string `json:"codCBO,omitempty"`
	NatAtividade *int   `json:"natAtividade,omitempty"`
	QtdDiasTrab  *int   `json:"qtdDiasTrab,omitempty"`
}

// InfoCompl carries an optional free-text observation
type InfoCompl struct {
	Observacao string `json:"observacao,omitempty"`
}
