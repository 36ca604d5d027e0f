// Package messages renders user-facing notices in the supported languages.
package messages

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Notice keys. The capture workflow reports these; the strings are stable
// and double as catalog keys.
const (
	SelectDocType     = "select_doc_type"
	RequestingCamera  = "requesting_camera"
	CenterFront       = "center_front"
	CenterBack        = "center_back"
	Rotate            = "rotate_device"
	CheckQuality      = "check_quality"
	Glare             = "glare_detected"
	ReadyToSend       = "ready_to_send"
	Sending           = "sending"
	Complete          = "complete"
	CameraError       = "camera_error"
	CameraUnavailable = "camera_unavailable"
	NoToken           = "no_token"
	SubmitFailed      = "submit_failed"
	AuthFailed        = "auth_failed"
	Redirecting       = "redirecting"
)

// Supported lists the catalog languages; the first is the fallback.
var Supported = []language.Tag{language.English, language.Spanish}

var entries = map[string][2]string{
	SelectDocType:     {"Select the document type.", "Seleccione el tipo de documento."},
	RequestingCamera:  {"You will be asked for permission to use the camera.", "Se le pedirá permiso para usar la cámara."},
	CenterFront:       {"Center the FRONT of the document...", "Centre el FRENTE..."},
	CenterBack:        {"Center the BACK of the document...", "Centre el REVERSO..."},
	Rotate:            {"Rotate your device to landscape.", "Gire su dispositivo a horizontal."},
	CheckQuality:      {"Check the quality of the capture.", "Verifique la calidad de la captura."},
	Glare:             {"Possible glare detected. Try softer light or a different angle.", "Posible reflejo detectado. Intente con una luz más suave o un ángulo diferente."},
	ReadyToSend:       {"Captures complete. Ready to send.", "Capturas completadas. Listo para enviar."},
	Sending:           {"Sending captures, please wait.", "Enviando capturas, por favor espere."},
	Complete:          {"Process finished. The images were sent.", "Proceso finalizado con éxito. Las imágenes fueron enviadas."},
	CameraError:       {"The camera could not be started. Check permissions and make sure it is not in use.", "No se pudo iniciar la cámara. Revise los permisos y asegúrese de que no esté en uso."},
	CameraUnavailable: {"No camera was found.", "No se encontraron cámaras."},
	NoToken:           {"Authentication error. No session token was found. Please sign in again.", "Error de autenticación. No se encontró el token de sesión. Por favor, inicie sesión de nuevo."},
	SubmitFailed:      {"Sending failed. Please try again.", "Error al enviar. Por favor, inténtelo de nuevo."},
	AuthFailed:        {"Authentication failed.", "Fallo al autenticar."},
	Redirecting:       {"Redirecting to the sign-in portal...", "Redirigiendo al portal de autenticación..."},
}

var (
	cat     = build()
	matcher = language.NewMatcher(Supported)
)

func build() catalog.Catalog {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for key, text := range entries {
		for i, tag := range Supported {
			if err := b.SetString(tag, key, text[i]); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Keys returns every notice key known to the catalog.
func Keys() []string {
	out := make([]string, 0, len(entries))
	for k := range entries {
		out = append(out, k)
	}
	return out
}

// Match picks the best supported language for an Accept-Language header or
// a configured language name. Unknown input yields the fallback.
func Match(preferences ...string) language.Tag {
	var tags []language.Tag
	for _, p := range preferences {
		if p == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return Supported[0]
	}
	_, index, _ := matcher.Match(tags...)
	return Supported[index]
}

// Printer renders notices in one language.
type Printer struct {
	tag language.Tag
	p   *message.Printer
}

// NewPrinter returns a printer for tag, falling back to English.
func NewPrinter(tag language.Tag) *Printer {
	return &Printer{tag: tag, p: message.NewPrinter(tag, message.Catalog(cat))}
}

// Language is the printer's language.
func (p *Printer) Language() language.Tag { return p.tag }

// Text renders a notice key. The empty key renders as the empty string and
// unknown keys are returned unchanged.
func (p *Printer) Text(key string) string {
	if key == "" {
		return ""
	}
	if _, ok := entries[key]; !ok {
		return key
	}
	return p.p.Sprintf(key)
}

// Detail renders a notice key followed by a detail such as an error message.
func (p *Printer) Detail(key, detail string) string {
	text := p.Text(key)
	if detail == "" {
		return text
	}
	return text + " (" + detail + ")"
}
