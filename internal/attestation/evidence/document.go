package evidence

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/drewstone/edgeware-watcher/internal/attestation/models"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// documentSchema is the minimal shape the oracle relies on before the acceptance
// rules run. Description and owner are left unconstrained: a wrong description is
// reported as such even when the owner is missing.
const documentSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "files": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {"content": {"type": ["string", "null"]}}
      }
    }
  }
}`

var compiledDocumentSchema = jsonschema.MustCompileString("https://oracle.schemas.local/evidence-document.schema.json", documentSchema)

type wireDocument struct {
	Description json.RawMessage `json:"description"`
	Owner       json.RawMessage `json:"owner"`
	Files       map[string]struct {
		Content *string `json:"content"`
	} `json:"files"`
}

// ParseDocument decodes a raw body into an EvidenceDocument. An empty or non-JSON
// body is a fetch failure; a JSON body with the wrong shape is malformed evidence.
func ParseDocument(ref id.EvidenceReference, raw []byte) (*models.EvidenceDocument, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, NewFetchError(CategoryBadBody, ref, "empty response body", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, NewFetchError(CategoryBadBody, ref, "response body is not JSON", err)
	}
	if err := compiledDocumentSchema.Validate(generic); err != nil {
		return nil, NewMalformedError(ref, fmt.Sprintf("malformed response data: %v", err), raw)
	}

	var wire wireDocument
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, NewMalformedError(ref, fmt.Sprintf("malformed response data: %v", err), raw)
	}

	doc := &models.EvidenceDocument{
		Description: decodeDescription(wire.Description),
		OwnerLogin:  decodeOwnerLogin(wire.Owner),
		Raw:         raw,
	}
	if wire.Files != nil {
		doc.Files = make(map[string]*string, len(wire.Files))
		for name, f := range wire.Files {
			doc.Files[name] = f.Content
		}
	}
	return doc, nil
}

// decodeDescription returns a string description as is, null or absent as "", and
// any other JSON value as its literal text so it can never match.
func decodeDescription(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s *string
	if err := json.Unmarshal(raw, &s); err != nil {
		return string(raw)
	}
	if s == nil {
		return ""
	}
	return *s
}

// decodeOwnerLogin returns "" for an absent or null owner (anonymous gists) and for
// an owner whose login is not a string.
func decodeOwnerLogin(raw json.RawMessage) string {
	var owner struct {
		Login string `json:"login"`
	}
	if len(raw) == 0 || json.Unmarshal(raw, &owner) != nil {
		return ""
	}
	return owner.Login
}

// ValidateDocument applies the acceptance rules in order: a declared proof file must
// carry content, the description must name the expected attestation kind, the
// document must have an owner login, and a proof file must be present.
func ValidateDocument(ref id.EvidenceReference, doc *models.EvidenceDocument, expectedDescription string) error {
	if content, declared := doc.Files[models.ProofFile]; declared && content == nil {
		return NewMalformedError(ref, "malformed response data: proof file has no content", doc.Raw)
	}
	if doc.Description != expectedDescription {
		return NewWrongKindError(ref, doc.Description)
	}
	if doc.OwnerLogin == "" {
		return NewMalformedError(ref, "malformed response data: document has no owner login", doc.Raw)
	}
	if _, ok := doc.Proof(); !ok {
		return NewMalformedError(ref, "malformed response data: document has no proof file", doc.Raw)
	}
	return nil
}
