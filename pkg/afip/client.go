package afip

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mlorenzo/facturable-api/pkg/apperror"
)

// Config holds WSFE client configuration
type Config struct {
	CUIT    int64
	WSFEURL string
	Timeout time.Duration
}

// Client talks to the fiscal authority's WSFE electronic invoicing service.
// The authority sequences document numbers per (point of sale, comprobante
// type) with read-then-write semantics and no native transaction, so callers
// must serialize Authorize calls per sequence themselves.
type Client struct {
	cfg        Config
	provider   TokenProvider
	httpClient *http.Client
	session    session
}

// NewClient creates a new WSFE client
func NewClient(cfg Config, provider TokenProvider) *Client {
	if cfg.WSFEURL == "" {
		cfg.WSFEURL = "https://servicios1.afip.gov.ar/wsfev1/service.asmx"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 25 * time.Second
	}
	return &Client{
		cfg:        cfg,
		provider:   provider,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// LastIssuedNumber returns the last authorized document number for a
// (point of sale, comprobante type) sequence. Also used by callers to probe
// whether an uncertain in-flight authorization actually landed.
func (c *Client) LastIssuedNumber(ctx context.Context, pointOfSale, comprobanteTipo int) (int64, error) {
	sess, err := c.session.get(ctx, c.provider)
	if err != nil {
		return 0, err
	}

	body := fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
    xmlns:ar="http://ar.gov.afip.dif.FEV1/">
  <soapenv:Header/>
  <soapenv:Body>
    <ar:FECompUltimoAutorizado>
      <ar:Auth>
        <ar:Token>%s</ar:Token>
        <ar:Sign>%s</ar:Sign>
        <ar:Cuit>%d</ar:Cuit>
      </ar:Auth>
      <ar:PtoVta>%d</ar:PtoVta>
      <ar:CbteTipo>%d</ar:CbteTipo>
    </ar:FECompUltimoAutorizado>
  </soapenv:Body>
</soapenv:Envelope>`, sess.Token, sess.Sign, c.cfg.CUIT, pointOfSale, comprobanteTipo)

	fields, err := c.post(ctx, "http://ar.gov.afip.dif.FEV1/FECompUltimoAutorizado", body)
	if err != nil {
		return 0, err
	}
	if errs := fields.errors(); len(errs) > 0 {
		return 0, apperror.NewRejectedError(strings.Join(errs, " | "))
	}

	nro, ok := fields.get("CbteNro")
	if !ok {
		return 0, apperror.NewRejectedError("authority did not return a last document number")
	}
	return strconv.ParseInt(nro, 10, 64)
}

// Authorize requests authorization for the next document in the sequence.
// It reads the last issued number, assigns last+1 and submits a
// FECAESolicitar request; the returned Authorization carries the document
// number and the CAE code with its expiry.
func (c *Client) Authorize(ctx context.Context, req *AuthorizationRequest) (*Authorization, error) {
	last, err := c.LastIssuedNumber(ctx, req.PointOfSale, req.ComprobanteTipo)
	if err != nil {
		return nil, err
	}
	docNumber := last + 1

	sess, err := c.session.get(ctx, c.provider)
	if err != nil {
		return nil, err
	}

	issued := time.Now()
	body := c.buildSolicitarEnvelope(sess, req, docNumber, issued)

	fields, err := c.post(ctx, "http://ar.gov.afip.dif.FEV1/FECAESolicitar", body)
	if err != nil {
		return nil, err
	}
	if errs := fields.errors(); len(errs) > 0 {
		return nil, apperror.NewRejectedError(strings.Join(errs, " | "))
	}

	cae, ok := fields.get("CAE")
	if !ok || cae == "" {
		return nil, apperror.NewRejectedError("authority did not return an authorization code")
	}

	auth := &Authorization{
		DocumentNumber:    docNumber,
		AuthorizationCode: cae,
		IssuedDate:        issued,
	}
	if vto, ok := fields.get("CAEFchVto"); ok {
		if t, err := time.Parse("20060102", vto); err == nil {
			auth.ExpiryDate = t
		}
	}
	return auth, nil
}

func (c *Client) buildSolicitarEnvelope(sess *AuthSession, req *AuthorizationRequest, docNumber int64, issued time.Time) string {
	var items bytes.Buffer
	for _, it := range req.Items {
		lineTotal := it.Quantity.Mul(it.UnitPrice).Round(2)
		items.WriteString(fmt.Sprintf(`
        <ar:Item>
            <ar:Pro_ds>%s</ar:Pro_ds>
            <ar:Pro_qty>%s</ar:Pro_qty>
            <ar:Pro_umed>7</ar:Pro_umed>
            <ar:Pro_precio>%s</ar:Pro_precio>
            <ar:Pro_total_item>%s</ar:Pro_total_item>
        </ar:Item>`,
			xmlEscape(it.Description), it.Quantity.String(), it.UnitPrice.StringFixed(2), lineTotal.StringFixed(2)))
	}

	// Factura C carries the total as net; no VAT breakdown.
	total := req.Total.StringFixed(2)

	var linked string
	if req.LinkedDocumentNumber > 0 {
		linked = fmt.Sprintf(`
            <ar:CbtesAsoc>
              <ar:CbteAsoc>
                <ar:Tipo>%d</ar:Tipo>
                <ar:PtoVta>%d</ar:PtoVta>
                <ar:Nro>%d</ar:Nro>
              </ar:CbteAsoc>
            </ar:CbtesAsoc>`,
			req.LinkedComprobanteTipo, req.LinkedPointOfSale, req.LinkedDocumentNumber)
	}

	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<soapenv:Envelope xmlns:soapenv="http://schemas.xmlsoap.org/soap/envelope/"
    xmlns:ar="http://ar.gov.afip.dif.FEV1/">
  <soapenv:Header/>
  <soapenv:Body>
    <ar:FECAESolicitar>
      <ar:Auth>
        <ar:Token>%s</ar:Token>
        <ar:Sign>%s</ar:Sign>
        <ar:Cuit>%d</ar:Cuit>
      </ar:Auth>
      <ar:FeCAEReq>
        <ar:FeCabReq>
          <ar:CantReg>1</ar:CantReg>
          <ar:PtoVta>%d</ar:PtoVta>
          <ar:CbteTipo>%d</ar:CbteTipo>
        </ar:FeCabReq>
        <ar:FeDetReq>
          <ar:FECAEDetRequest>
            <ar:Concepto>1</ar:Concepto>
            <ar:DocTipo>%d</ar:DocTipo>
            <ar:DocNro>%d</ar:DocNro>
            <ar:CbteDesde>%d</ar:CbteDesde>
            <ar:CbteHasta>%d</ar:CbteHasta>
            <ar:CbteFch>%s</ar:CbteFch>
            <ar:ImpTotal>%s</ar:ImpTotal>
            <ar:ImpTotConc>0</ar:ImpTotConc>
            <ar:ImpNeto>%s</ar:ImpNeto>
            <ar:ImpOpEx>0</ar:ImpOpEx>
            <ar:ImpIVA>0</ar:ImpIVA>
            <ar:ImpTrib>0</ar:ImpTrib>
            <ar:MonId>PES</ar:MonId>
            <ar:MonCotiz>1.00</ar:MonCotiz>%s
            <ar:Items>%s
            </ar:Items>
          </ar:FECAEDetRequest>
        </ar:FeDetReq>
      </ar:FeCAEReq>
    </ar:FECAESolicitar>
  </soapenv:Body>
</soapenv:Envelope>`,
		sess.Token, sess.Sign, c.cfg.CUIT,
		req.PointOfSale, req.ComprobanteTipo,
		req.DocTipo, req.DocNro,
		docNumber, docNumber,
		issued.Format("20060102"),
		total, total,
		linked, items.String())
}

// post sends a SOAP request and flattens the response into element fields.
// Transport failures, timeouts and 5xx answers are transient; the caller
// cannot know whether the authority processed the request.
func (c *Client) post(ctx context.Context, action, body string) (responseFields, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WSFEURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", action)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperror.NewTransientError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, apperror.NewTransientError(fmt.Errorf("authority returned %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, apperror.NewRejectedError(fmt.Sprintf("authority returned %d: %s", resp.StatusCode, raw))
	}

	return parseResponseFields(resp.Body)
}

// responseFields holds the character data of every leaf element in a WSFE
// response, keyed by local element name. The service nests results several
// namespaced levels deep; a flat scan is what the wire format supports
// reliably across FECompUltimoAutorizado and FECAESolicitar.
type responseFields map[string][]string

func (f responseFields) get(name string) (string, bool) {
	vals := f[name]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// errors collects authority Err blocks as "code: message" strings.
func (f responseFields) errors() []string {
	codes := f["Code"]
	msgs := f["Msg"]
	var out []string
	for i := range codes {
		msg := ""
		if i < len(msgs) {
			msg = msgs[i]
		}
		out = append(out, codes[i]+": "+msg)
	}
	return out
}

func parseResponseFields(r io.Reader) (responseFields, error) {
	dec := xml.NewDecoder(r)
	fields := make(responseFields)

	var current string
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parsing authority response: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			text := strings.TrimSpace(string(t))
			if current != "" && text != "" {
				fields[current] = append(fields[current], text)
			}
		case xml.EndElement:
			current = ""
		}
	}
	return fields, nil
}

func xmlEscape(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
