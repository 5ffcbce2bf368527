package esocial

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/dompay/services/esocial/config"
)

// Transmitter delivers an encoded event to the eSocial gateway and returns
// the protocol number issued on acceptance
type Transmitter interface {
	Send(ctx context.Context, eventType string, xmlBody []byte) (string, error)
}

// HTTPTransmitter sends events over the gateway's HTTP endpoint
type HTTPTransmitter struct {
	client     *http.Client
	gatewayURL string
}

// NewHTTPTransmitter creates a transmitter from the pipeline configuration
func NewHTTPTransmitter(cfg config.EsocialConfig) *HTTPTransmitter {
	timeout := cfg.GatewayTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPTransmitter{
		client:     &http.Client{Timeout: timeout},
		gatewayURL: cfg.GatewayURL,
	}
}

// receiptEnvelope mirrors the acceptance response of the gateway
type receiptEnvelope struct {
	XMLName xml.Name `xml:"retornoEnvioLoteEventos"`
	Status  struct {
		CdResposta   int    `xml:"cdResposta"`
		DescResposta string `xml:"descResposta"`
	} `xml:"status"`
	DadosRecepcao struct {
		ProtocoloEnvio string `xml:"protocoloEnvio"`
	} `xml:"dadosRecepcaoLote"`
}

// Send posts the envelope and extracts the protocol number. Every transport
// failure, non-success status and malformed response maps to a
// TransientError so the caller can retry.
func (t *HTTPTransmitter) Send(ctx context.Context, eventType string, xmlBody []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.gatewayURL, bytes.NewReader(xmlBody))
	if err != nil {
		return "", NewTransientError(errors.Wrap(err, "failed to build gateway request"))
	}
	req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	req.Header.Set("X-Esocial-Event-Type", eventType)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", NewTransientError(errors.Wrap(err, "gateway request failed"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", NewTransientError(errors.Wrap(err, "failed to read gateway response"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", NewTransientErrorf("gateway returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var receipt receiptEnvelope
	if err := xml.Unmarshal(body, &receipt); err != nil {
		return "", NewTransientError(errors.Wrap(err, "malformed gateway response"))
	}

	if receipt.DadosRecepcao.ProtocoloEnvio == "" {
		return "", NewTransientErrorf("gateway rejected the batch: code=%d message=%s",
			receipt.Status.CdResposta, receipt.Status.DescResposta)
	}

	log.Debug().
		Str("event_type", eventType).
		Str("protocol", receipt.DadosRecepcao.ProtocoloEnvio).
		Msg("Event accepted by gateway")

	return receipt.DadosRecepcao.ProtocoloEnvio, nil
}
