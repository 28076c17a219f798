package model

// ExportKind names one downstream artifact produced from a transcription.
type ExportKind string

const (
	ExportMusicXML ExportKind = "musicxml"
	ExportMIDI     ExportKind = "midi"
	ExportPDF      ExportKind = "pdf"
)

// ExportKinds lists every artifact the export stage produces, in render order.
var ExportKinds = []ExportKind{ExportMusicXML, ExportMIDI, ExportPDF}

// Valid reports whether k names a known export kind.
func (k ExportKind) Valid() bool {
	switch k {
	case ExportMusicXML, ExportMIDI, ExportPDF:
		return true
	}
	return false
}

// Artifact is the tagged output of one export renderer: either real bytes
// with their MIME type, or a textual placeholder when the renderer could not
// produce the kind.
type Artifact struct {
	Kind        ExportKind
	Data        []byte
	ContentType string
	Degraded    bool
	Reason      string
}
