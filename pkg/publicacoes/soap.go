package publicacoes

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

const (
	soapEnvNS  = "http://schemas.xmlsoap.org/soap/envelope/"
	serviceNS  = "http://ws.publicacoes.com.br/"
	contentXML = "text/xml; charset=utf-8"
)

type envelope struct {
	XMLName xml.Name `xml:"soapenv:Envelope"`
	EnvNS   string   `xml:"xmlns:soapenv,attr"`
	WsNS    string   `xml:"xmlns:ws,attr"`
	Body    struct {
		Content any
	} `xml:"soapenv:Body"`
}

func newEnvelope(content any) envelope {
	env := envelope{EnvNS: soapEnvNS, WsNS: serviceNS}
	env.Body.Content = content
	return env
}

type searchRequest struct {
	XMLName       xml.Name `xml:"ws:getPublicacoes"`
	User          string   `xml:"nomeRelacional"`
	Token         string   `xml:"token"`
	GroupCode     string   `xml:"codGrupo"`
	DateFrom      string   `xml:"dataInicial"`
	DateTo        string   `xml:"dataFinal"`
	ProcessNumber string   `xml:"numeroProcesso,omitempty"`
}

type markRequest struct {
	XMLName xml.Name `xml:"ws:setPublicacoesExportadas"`
	User    string   `xml:"nomeRelacional"`
	Token   string   `xml:"token"`
	Codes   string   `xml:"codPublicacoes"`
}

// publicacaoXML is one <publicacao> element of a search response.
type publicacaoXML struct {
	Code          int64  `xml:"codPublicacao"`
	ProcessNumber string `xml:"numeroProcesso"`
	Date          string `xml:"dataPublicacao"`
	Texto         string `xml:"texto"`
	Conteudo      string `xml:"conteudo"`
	Resumo        string `xml:"resumo"`
	Diario        string `xml:"nomeDiario"`
	Instancia     string `xml:"instancia"`
	Caderno       string `xml:"descricaoCaderno"`
	Vara          string `xml:"vara"`
	Orgao         string `xml:"orgao"`
	Cidade        string `xml:"cidade"`
	UF            string `xml:"uf"`
	Pagina        string `xml:"pagina"`
}

// text picks the first non-blank body field. Some diaries only fill the
// content or summary field.
func (p publicacaoXML) text() string {
	for _, s := range []string{p.Texto, p.Conteudo, p.Resumo} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func (p publicacaoXML) extra() map[string]any {
	extra := map[string]any{}
	for k, v := range map[string]string{
		"vara":   p.Vara,
		"orgao":  p.Orgao,
		"cidade": p.Cidade,
		"uf":     p.UF,
		"pagina": p.Pagina,
	} {
		if v = strings.TrimSpace(v); v != "" {
			extra[k] = v
		}
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// Fault is a SOAP fault returned by the webservice.
type Fault struct {
	Code   string `xml:"faultcode"`
	String string `xml:"faultstring"`
}

func (f *Fault) Error() string {
	return fmt.Sprintf("publicacoes: soap fault %s: %s", f.Code, f.String)
}

func newDecoder(r io.Reader) *xml.Decoder {
	d := xml.NewDecoder(r)
	d.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "publicacoes: unsupported charset %q", charset)
		}
		return enc.NewDecoder().Reader(input), nil
	}
	return d
}

// walkBody calls fn for every start element named local. A Fault anywhere
// in the body is returned as *Fault.
func walkBody(r io.Reader, local string, fn func(d *xml.Decoder, se *xml.StartElement) error) error {
	d := newDecoder(r)
	for {
		tok, err := d.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "publicacoes: read xml token")
		}
		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch se.Name.Local {
		case "Fault":
			var f Fault
			if err := d.DecodeElement(&f, &se); err != nil {
				return eris.Wrap(err, "publicacoes: decode fault")
			}
			return &f
		case local:
			if err := fn(d, &se); err != nil {
				return err
			}
		}
	}
}
