package messages

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		in   []string
		want language.Tag
	}{
		{nil, language.English},
		{[]string{"es-MX,es;q=0.9,en;q=0.8"}, language.Spanish},
		{[]string{"fr-FR"}, language.English},
		{[]string{"", "es"}, language.Spanish},
		{[]string{"not a language !!"}, language.English},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Match(tt.in...), "%v", tt.in)
	}
}

func TestPrinterText(t *testing.T) {
	en := NewPrinter(language.English)
	es := NewPrinter(language.Spanish)

	assert.Equal(t, "Select the document type.", en.Text(SelectDocType))
	assert.Equal(t, "Seleccione el tipo de documento.", es.Text(SelectDocType))
	assert.Equal(t, "", es.Text(""))
	assert.Equal(t, "unknown_key", es.Text("unknown_key"))
	assert.Equal(t, "Sending failed. Please try again. (HTTP 500)", en.Detail(SubmitFailed, "HTTP 500"))
}

func TestEveryKeyTranslated(t *testing.T) {
	en := NewPrinter(language.English)
	es := NewPrinter(language.Spanish)
	for _, k := range Keys() {
		assert.NotEqual(t, k, en.Text(k), k)
		assert.NotEqual(t, en.Text(k), es.Text(k), k)
	}
}
