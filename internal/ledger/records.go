package ledger

import (
	"time"

	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

// IdentityStage is the lifecycle position of an identity record.
type IdentityStage string

const (
	StageRegistered IdentityStage = "registered"
	StageAttested   IdentityStage = "attested"
	StageVerified   IdentityStage = "verified"
)

// MetadataRecord is optional profile data attached to an identity.
type MetadataRecord struct {
	Avatar      string `json:"avatar"`
	DisplayName string `json:"displayName"`
	Tagline     string `json:"tagline"`
}

// IdentityRecord is the ledger's view of one claimed identity. The oracle never
// writes records; it only settles them.
type IdentityRecord struct {
	Hash           id.Hash              `json:"hash"`
	Account        id.AccountID         `json:"account"`
	IdentityType   string               `json:"identityType"`
	Identity       string               `json:"identity"`
	Stage          IdentityStage        `json:"stage"`
	ExpirationTime time.Time            `json:"expirationTime"`
	Proof          id.EvidenceReference `json:"proof,omitempty"`
	Metadata       *MetadataRecord      `json:"metadata,omitempty"`
}
