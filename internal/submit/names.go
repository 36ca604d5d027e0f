package submit

import "fmt"

// FileName is the upload name for one side of a document type.
func FileName(docType string, back bool) string {
	if back {
		return fmt.Sprintf("ID_%s_REVERSO.png", docType)
	}
	return fmt.Sprintf("ID_%s_FRONT.png", docType)
}
