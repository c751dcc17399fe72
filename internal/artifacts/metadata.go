package artifacts

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// BuildMetadata is embedded into every rendered documentation page via a
// generated JS data file. The rendered docs read it to display version
// pickers and canonical links.
type BuildMetadata struct {
	Project      string `json:"project"`
	Version      string `json:"version"`
	Commit       string `json:"commit"`
	BuildID      string `json:"build"`
	CanonicalURL string `json:"canonical_url"`
	Language     string `json:"language"`
}

// MetadataFileName is the conventional name of the embedded data file.
const MetadataFileName = "docharbor-data.js"

// RenderMetadataFile renders the JS data file regenerated at the end of
// every format build.
func RenderMetadataFile(md BuildMetadata) ([]byte, error) {
	payload, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal build metadata: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("// Generated by docharbor. Do not edit.\n")
	buf.WriteString("window.docharbor = window.docharbor || {};\n")
	buf.WriteString("window.docharbor.build = ")
	buf.Write(payload)
	buf.WriteString(";\n")
	return buf.Bytes(), nil
}
