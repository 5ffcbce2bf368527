package esocial

import (
	"encoding/xml"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Encoder renders validated payloads as eSocial XML envelopes. Element
// content and escaping go through encoding/xml, so free-text fields with
// markup characters cannot corrupt the document.
type Encoder struct {
	mu      sync.Mutex
	now     func() time.Time
	randInt func(n int) int
}

// NewEncoder creates an encoder with wall-clock identifiers
func NewEncoder() *Encoder {
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Encoder{
		now:     time.Now,
		randInt: rng.Intn,
	}
}

// Encode produces the XML document for payload. Apart from the generated
// event identifier, the output is a pure function of the payload.
func (e *Encoder) Encode(payload Payload) ([]byte, error) {
	descriptor, ok := DescriptorFor(payload.EventType())
	if !ok {
		return nil, errors.Errorf("no descriptor registered for event type %q", payload.EventType())
	}

	var doc interface{}
	switch p := payload.(type) {
	case *S1202Payload:
		doc = buildS1202Document(descriptor, e.GenerateEventID(), p)
	default:
		return nil, errors.Errorf("no XML layout registered for event type %q", payload.EventType())
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal event document")
	}

	return append([]byte(xml.Header), body...), nil
}

// GenerateEventID builds a unique event instance identifier from the current
// timestamp and a random six-digit suffix
func (e *Encoder) GenerateEventID() string {
	e.mu.Lock()
	suffix := e.randInt(1000000)
	e.mu.Unlock()
	return fmt.Sprintf("ID%s%06d", e.now().UTC().Format("20060102150405"), suffix)
}

// formatAmount renders a monetary value with exactly two decimal digits,
// rounding half-up when the source carries more precision
func formatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// formatQuantity renders a quantity without forcing trailing zeros
func formatQuantity(d decimal.Decimal) string {
	return d.String()
}

type s1202Envelope struct {
	XMLName xml.Name   `xml:"eSocial"`
	Xmlns   string     `xml:"xmlns,attr"`
	Event   s1202Event `xml:"evtRemun"`
}

type s1202Event struct {
	ID             string            `xml:"Id,attr"`
	IdeEvento      ideEventoXML      `xml:"ideEvento"`
	IdeEmpregador  ideEmpregadorXML  `xml:"ideEmpregador"`
	IdeTrabalhador ideTrabalhadorXML `xml:"ideTrabalhador"`
	DmDev          []dmDevXML        `xml:"dmDev"`
	InfoComplCont  *infoComplContXML `xml:"infoComplCont,omitempty"`
	InfoCompl      *infoComplXML     `xml:"infoCompl,omitempty"`
}

type ideEventoXML struct {
	IndRetif    string `xml:"indRetif"`
	NrRecibo    string `xml:"nrRecibo,omitempty"`
	PerApur     string `xml:"perApur"`
	IndApuracao string `xml:"indApuracao"`
	IndGuia     string `xml:"indGuia"`
	TpAmb       string `xml:"tpAmb"`
	ProcEmi     string `xml:"procEmi"`
	VerProc     string `xml:"verProc"`
}

type ideEmpregadorXML struct {
	TpInsc int    `xml:"tpInsc"`
	NrInsc string `xml:"nrInsc"`
}

type ideTrabalhadorXML struct {
	CpfTrab   string `xml:"cpfTrab"`
	NisTrab   string `xml:"nisTrab,omitempty"`
	NmTrab    string `xml:"nmTrab"`
	Sexo      string `xml:"sexo"`
	RacaCor   string `xml:"racaCor"`
	EstCiv    string `xml:"estCiv"`
	GrauInstr string `xml:"grauInstr"`
	NmSoc     string `xml:"nmSoc,omitempty"`
}

type dmDevXML struct {
	IdeDmDev    string           `xml:"ideDmDev"`
	CodCateg    int              `xml:"codCateg"`
	InfoPerApur []infoPerApurXML `xml:"infoPerApur"`
}

type infoPerApurXML struct {
	IdeEstabLot []ideEstabLotXML `xml:"ideEstabLot"`
}

type ideEstabLotXML struct {
	TpInsc     int           `xml:"tpInsc"`
	NrInsc     string        `xml:"nrInsc"`
	CodLotacao string        `xml:"codLotacao"`
	DetVerbas  []detVerbaXML `xml:"detVerbas"`
}

type detVerbaXML struct {
	CodRubr    string `xml:"codRubr"`
	IdeTabRubr string `xml:"ideTabRubr"`
	QtdRubr    string `xml:"qtdRubr"`
	VrRubr     string `xml:"vrRubr"`
	IndApurIR  int    `xml:"indApurIR"`
}

type infoComplContXML struct {
	CodCBO       string `xml:"codCBO,omitempty"`
	NatAtividade *int   `xml:"natAtividade,omitempty"`
	QtdDiasTrab  *int   `xml:"qtdDiasTrab,omitempty"`
}

type infoComplXML struct {
	Observacao string `xml:"observacao"`
}

func buildS1202Document(descriptor *Descriptor, eventID string, p *S1202Payload) *s1202Envelope {
	event := s1202Event{
		ID: eventID,
		IdeEvento: ideEventoXML{
			IndRetif:    p.IdeEvento.IndRetif,
			NrRecibo:    p.IdeEvento.NrRecibo,
			PerApur:     p.IdeEvento.PerApur,
			IndApuracao: p.IdeEvento.IndApuracao,
			IndGuia:     p.IdeEvento.IndGuia,
			TpAmb:       p.IdeEvento.TpAmb,
			ProcEmi:     p.IdeEvento.ProcEmi,
			VerProc:     p.IdeEvento.VerProc,
		},
		IdeEmpregador: ideEmpregadorXML{
			TpInsc: p.IdeEmpregador.TpInsc,
			NrInsc: p.IdeEmpregador.NrInsc,
		},
		IdeTrabalhador: ideTrabalhadorXML{
			CpfTrab:   p.IdeTrabalhador.CpfTrab,
			NisTrab:   p.IdeTrabalhador.NisTrab,
			NmTrab:    p.IdeTrabalhador.NmTrab,
			Sexo:      p.IdeTrabalhador.Sexo,
			RacaCor:   p.IdeTrabalhador.RacaCor,
			EstCiv:    p.IdeTrabalhador.EstCiv,
			GrauInstr: p.IdeTrabalhador.GrauInstr,
			NmSoc:     p.IdeTrabalhador.NmSoc,
		},
	}

	for _, dev := range p.DmDev {
		devXML := dmDevXML{
			IdeDmDev: dev.IdeDmDev,
			CodCateg: dev.CodCateg,
		}

		perApur := infoPerApurXML{}
		for _, estab := range dev.InfoPerApur.IdeEstabLot {
			estabXML := ideEstabLotXML{
				TpInsc:     estab.TpInsc,
				NrInsc:     estab.NrInsc,
				CodLotacao: estab.CodLotacao,
			}
			for _, verba := range estab.DetVerbas {
				estabXML.DetVerbas = append(estabXML.DetVerbas, detVerbaXML{
					CodRubr:    verba.CodRubr,
					IdeTabRubr: verba.IdeTabRubr,
					QtdRubr:    formatQuantity(verba.QtdRubr),
					VrRubr:     formatAmount(verba.VrRubr),
					IndApurIR:  verba.IndApurIR,
				})
			}
			perApur.IdeEstabLot = append(perApur.IdeEstabLot, estabXML)
		}
		devXML.InfoPerApur = []infoPerApurXML{perApur}

		event.DmDev = append(event.DmDev, devXML)
	}

	if p.InfoComplCont != nil {
		event.InfoComplCont = &infoComplContXML{
			CodCBO:       p.InfoComplCont.CodCBO,
			NatAtividade: p.InfoComplCont.NatAtividade,
			QtdDiasTrab:  p.InfoComplCont.QtdDiasTrab,
		}
	}

	if p.InfoCompl != nil && p.InfoCompl.Observacao != "" {
		event.InfoCompl = &infoComplXML{Observacao: p.InfoCompl.Observacao}
	}

	return &s1202Envelope{
		Xmlns: descriptor.Namespace,
		Event: event,
	}
}
