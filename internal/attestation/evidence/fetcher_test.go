package evidence_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence"
	"github.com/drewstone/edgeware-watcher/internal/attestation/evidence/mocks"
	"github.com/drewstone/edgeware-watcher/internal/platform/metrics"
	id "github.com/drewstone/edgeware-watcher/pkg/domain"
)

const gistID = id.EvidenceReference("aa5a315d61ae9438b18d")

const validGist = `{
  "description": "Edgeware Identity Attestation",
  "owner": {"login": "drewstone"},
  "files": {"proof": {"content": "U2FsdGVkX18BAgMEBQYHCN3hKXppSdYVFe58dtgFCd4="}}
}`

type FetcherSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	raw     *mocks.MockRawSource
	fetcher *evidence.Fetcher
}

func TestFetcherSuite(t *testing.T) {
	suite.Run(t, new(FetcherSuite))
}

func (s *FetcherSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.raw = mocks.NewMockRawSource(s.ctrl)
	f, err := evidence.NewFetcher(s.raw,
		evidence.WithTimeout(200*time.Millisecond),
		evidence.WithMetrics(metrics.NewWithRegisterer(prometheus.NewRegistry())),
	)
	s.Require().NoError(err)
	s.fetcher = f
}

func (s *FetcherSuite) TearDownTest() {
	s.ctrl.Finish()
}

// =============================================================================
// Accepted documents
// =============================================================================

func (s *FetcherSuite) TestFetchReturnsValidatedDocument() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).Return([]byte(validGist), nil)

	doc, err := s.fetcher.Fetch(context.Background(), gistID)
	s.Require().NoError(err)
	s.Equal("drewstone", doc.OwnerLogin)
	proof, ok := doc.Proof()
	s.True(ok)
	s.Equal("U2FsdGVkX18BAgMEBQYHCN3hKXppSdYVFe58dtgFCd4=", proof)
}

func (s *FetcherSuite) TestFetchPassesDeadlineToSource() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).DoAndReturn(
		func(ctx context.Context, _ id.EvidenceReference) ([]byte, error) {
			deadline, ok := ctx.Deadline()
			s.True(ok)
			s.WithinDuration(time.Now().Add(200*time.Millisecond), deadline, 200*time.Millisecond)
			return []byte(validGist), nil
		})

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	s.NoError(err)
}

// =============================================================================
// Rejected documents
// =============================================================================

func (s *FetcherSuite) TestFetchWithoutProofFileIsMalformed() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).Return([]byte(`{
		"description": "Edgeware Identity Attestation",
		"owner": {"login": "drewstone"},
		"files": {"readme.md": {"content": "hi"}}
	}`), nil)

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	s.Equal(evidence.KindMalformed, evidence.KindOf(err))
}

func (s *FetcherSuite) TestFetchWithWrongDescriptionIsWrongKind() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).Return([]byte(`{
		"description": "shopping list",
		"owner": {"login": "drewstone"},
		"files": {"proof": {"content": "x"}}
	}`), nil)

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	s.Equal(evidence.KindWrongAttestationKind, evidence.KindOf(err))
}

// =============================================================================
// Retrieval failures
// =============================================================================

func (s *FetcherSuite) TestFetchKeepsTypedSourceErrors() {
	notFound := evidence.NewFetchError(evidence.CategoryNotFound, gistID, "gist not found", nil)
	s.raw.EXPECT().Get(gomock.Any(), gistID).Return(nil, notFound)

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	s.Same(notFound, err)
}

func (s *FetcherSuite) TestFetchNormalizesUntypedErrorsAsOutage() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).Return(nil, errors.New("dial tcp: connection refused"))

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	var ee *evidence.Error
	s.Require().ErrorAs(err, &ee)
	s.Equal(evidence.KindFetch, ee.Kind)
	s.Equal(evidence.CategoryOutage, ee.Category)
	s.True(ee.Retryable)
}

func (s *FetcherSuite) TestFetchTimesOut() {
	s.raw.EXPECT().Get(gomock.Any(), gistID).DoAndReturn(
		func(ctx context.Context, _ id.EvidenceReference) ([]byte, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		})

	_, err := s.fetcher.Fetch(context.Background(), gistID)
	var ee *evidence.Error
	s.Require().ErrorAs(err, &ee)
	s.Equal(evidence.CategoryTimeout, ee.Category)
}

func TestNewFetcherValidation(t *testing.T) {
	_, err := evidence.NewFetcher(nil)
	require.Error(t, err)

	ctrl := gomock.NewController(t)
	_, err = evidence.NewFetcher(mocks.NewMockRawSource(ctrl), evidence.WithExpectedDescription(""))
	assert.Error(t, err)
}
